package s3

import (
	"io"
	"sync"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
)

// seekWriter is the C11 limited-seekable writer: atop bufferedWriter (C10),
// it reserves two rewritable regions instead of committing every byte the
// moment it's written (spec.md §4.8):
//
//   - HEAD: the first headBlockSize bytes, rewritable until committed.
//   - TAIL: the part bufferedWriter hasn't flushed yet, rewritable until
//     the next flush.
//
// Until the head is committed, both the head and everything written past
// it are held in local buffers (bounded to headBlockSize+PartSize) instead
// of being handed to the underlying multipart upload, since a multipart
// part's bytes can't be reordered once uploaded: the head must reach the
// inner writer before anything that follows it. Once committed, writes and
// seeks past the head delegate straight to the inner bufferedWriter, whose
// own unflushed buffer (w.buf) already serves as the TAIL region.
type seekWriter struct {
	api    backend.S3API
	bucket string
	key    string
	cfg    Config

	headBlockSize int64

	mu            sync.Mutex
	head          []byte
	pending       []byte // bytes at absolute offsets [headBlockSize, headBlockSize+len(pending)), held until head commits
	headCommitted bool
	inner         *bufferedWriter
	pos           int64
	maxPos        int64
	closed        bool
}

func newSeekWriter(api backend.S3API, bucket, key string, cfg Config) *seekWriter {
	headBlockSize := cfg.BlockSize
	if headBlockSize <= 0 {
		headBlockSize = defaultBlockSize
	}
	return &seekWriter{api: api, bucket: bucket, key: key, cfg: cfg, headBlockSize: headBlockSize}
}

func (w *seekWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, mscerr.New(mscerr.Unsupported, "write", w.key, nil)
	}

	written := 0
	for len(p) > 0 {
		switch {
		case w.pos < w.headBlockSize && !w.headCommitted:
			n := w.headBlockSize - w.pos
			if n > int64(len(p)) {
				n = int64(len(p))
			}
			w.growHeadLocked(w.pos + n)
			copy(w.head[w.pos:w.pos+n], p[:n])
			w.pos += n
			written += int(n)
			p = p[n:]

		case !w.headCommitted:
			off := w.pos - w.headBlockSize
			n := int64(len(p))
			w.growPendingLocked(off + n)
			copy(w.pending[off:off+n], p)
			w.pos += n
			written += int(n)
			p = nil
			if int64(len(w.pending)) >= w.cfg.PartSize {
				if err := w.commitHeadLocked(); err != nil {
					return written, err
				}
			}

		case w.pos == w.maxPos:
			n, err := w.inner.Write(p)
			w.pos += int64(n)
			written += n
			if err != nil {
				return written, err
			}
			p = nil

		default:
			if err := w.inner.overwriteTail(w.pos, p); err != nil {
				return written, err
			}
			w.pos += int64(len(p))
			written += len(p)
			p = nil
		}
		if w.pos > w.maxPos {
			w.maxPos = w.pos
		}
	}
	return written, nil
}

func (w *seekWriter) growHeadLocked(n int64) {
	if int64(len(w.head)) < n {
		grown := make([]byte, n)
		copy(grown, w.head)
		w.head = grown
	}
}

func (w *seekWriter) growPendingLocked(n int64) {
	if int64(len(w.pending)) < n {
		grown := make([]byte, n)
		copy(grown, w.pending)
		w.pending = grown
	}
}

// commitHeadLocked freezes the head region and hands the head, then every
// byte buffered so far, to a freshly created bufferedWriter in file order.
// Must be called with w.mu held.
func (w *seekWriter) commitHeadLocked() error {
	w.inner = newBufferedWriter(w.api, w.bucket, w.key, w.cfg)
	if len(w.head) > 0 {
		if _, err := w.inner.Write(w.head); err != nil {
			return err
		}
	}
	if len(w.pending) > 0 {
		if _, err := w.inner.Write(w.pending); err != nil {
			return err
		}
	}
	w.headCommitted = true
	w.head = nil
	w.pending = nil
	return nil
}

// Seek allows positions inside the head region (while uncommitted) or
// inside the live tail buffer; anywhere else raises Unsupported, matching
// spec.md §4.8.
func (w *seekWriter) Seek(offset int64, whence int) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = w.pos + offset
	case io.SeekEnd:
		newPos = w.maxPos + offset
	default:
		return 0, mscerr.New(mscerr.Unsupported, "seek", w.key, nil)
	}
	if newPos < 0 {
		return 0, mscerr.New(mscerr.Unsupported, "seek", w.key, nil)
	}

	switch {
	case newPos == w.maxPos:
		// Staying at (or returning to) the append point is always fine.
	case !w.headCommitted && newPos <= int64(len(w.head))+int64(len(w.pending)):
		// Inside the still-mutable head+pending region.
	case w.headCommitted && newPos >= w.inner.tailStart() && newPos <= w.inner.totalLen():
		// Inside the inner writer's live unflushed tail.
	default:
		return 0, mscerr.New(mscerr.Unsupported, "seek", w.key, nil)
	}
	w.pos = newPos
	return newPos, nil
}

func (w *seekWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.headCommitted {
		if err := w.commitHeadLocked(); err != nil {
			return err
		}
	}
	return w.inner.Close()
}

// Abort discards everything written so far. Nothing has reached S3 if the
// head was never committed.
func (w *seekWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.headCommitted {
		return w.inner.Abort()
	}
	return nil
}

var (
	_ backend.WriteCloser = (*seekWriter)(nil)
	_ backend.Aborter     = (*seekWriter)(nil)
)
