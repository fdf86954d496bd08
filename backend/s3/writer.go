package s3

import (
	"bytes"
	"context"
	"sync"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/concurrency"
	"github.com/NVIDIA/mscfile/mscerr"
)

// bufferedWriter is the C10 forward-only writer: small objects are
// buffered in memory and committed with a single PUT; objects that grow
// past Config.PutThreshold switch to a multipart upload with
// PartSize-aligned parts uploaded concurrently, bounded by a
// backpressure queue.
type bufferedWriter struct {
	api    backend.S3API
	bucket string
	key    string
	cfg    Config

	mu              sync.Mutex
	buf             bytes.Buffer
	totalWritten    int64
	multipart       bool
	uploadID        string
	nextPartNumber  int32
	partsFlushed    int
	currentPartSize int64
	completed       []backend.CompletedPart
	pool            *concurrency.Pool
	pendingParts    int
	lastPendingSize int // backpressure sample taken before a blocking wait, spec.md §4.7
	closed          bool
	aborted         bool
}

func newBufferedWriter(api backend.S3API, bucket, key string, cfg Config) *bufferedWriter {
	return &bufferedWriter{
		api: api, bucket: bucket, key: key, cfg: cfg,
		currentPartSize: cfg.PartSize,
		pool:            concurrency.NewPool(context.Background(), cfg.UploadConcurrency),
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, mscerr.New(mscerr.Unsupported, "write", w.key, nil)
	}
	n, _ := w.buf.Write(p)
	w.totalWritten += int64(n)

	if !w.multipart && int64(w.buf.Len()) >= w.cfg.PutThreshold {
		if err := w.beginMultipartLocked(); err != nil {
			w.mu.Unlock()
			return n, err
		}
	}
	if w.multipart {
		w.flushFullPartsLocked()
	}
	w.mu.Unlock()
	return n, nil
}

// beginMultipartLocked switches the writer from single-PUT mode to
// multipart mode once the buffered object has grown past PutThreshold.
// Must be called with w.mu held.
func (w *bufferedWriter) beginMultipartLocked() error {
	uploadID, err := w.api.CreateMultipartUpload(w.bucket, w.key, "")
	if err != nil {
		return mscerr.New(mscerr.Transport, "open", w.key, err)
	}
	w.multipart = true
	w.uploadID = uploadID
	return nil
}

// flushFullPartsLocked uploads every PartSize-aligned chunk currently
// buffered, applying backpressure when UploadConcurrency uploads are
// already in flight. Must be called with w.mu held; it releases the lock
// while a part upload is queued (pool.Go blocks there, not on completion)
// and re-acquires it after.
//
// pool.Go hands the upload to its own goroutine and returns as soon as it
// is scheduled, not when it finishes, so the part's outcome (etag or
// error) cannot be read from a closure variable right after the call:
// the goroutine records it into w.completed itself, under w.mu, once the
// upload actually completes. Failures surface later, from pool.Wait() in
// Close.
func (w *bufferedWriter) flushFullPartsLocked() {
	for int64(w.buf.Len()) >= w.currentPartSize {
		chunk := make([]byte, w.currentPartSize)
		_, _ = w.buf.Read(chunk)

		w.nextPartNumber++
		partNumber := w.nextPartNumber
		w.partsFlushed++
		if w.partsFlushed%100 == 0 && w.currentPartSize < w.cfg.MaxPartSize {
			w.currentPartSize *= 2
			if w.currentPartSize > w.cfg.MaxPartSize {
				w.currentPartSize = w.cfg.MaxPartSize
			}
		}

		w.lastPendingSize = w.pendingParts
		w.pendingParts++
		bucket, key, uploadID := w.bucket, w.key, w.uploadID

		w.mu.Unlock()
		w.pool.Go(func(ctx context.Context) error {
			etag, err := w.api.UploadPart(bucket, key, uploadID, partNumber, bytes.NewReader(chunk))
			w.mu.Lock()
			w.pendingParts--
			if err == nil {
				w.completed = append(w.completed, backend.CompletedPart{PartNumber: partNumber, ETag: etag})
			}
			w.mu.Unlock()
			return err
		})
		w.mu.Lock()
	}
}

func (w *bufferedWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	if !w.multipart {
		defer w.mu.Unlock()
		_, err := w.api.PutObject(w.bucket, w.key, bytes.NewReader(w.buf.Bytes()), "")
		if err != nil {
			return mscerr.New(mscerr.Transport, "close", w.key, err)
		}
		return nil
	}

	if w.buf.Len() > 0 {
		w.nextPartNumber++
		partNumber := w.nextPartNumber
		chunk := w.buf.Bytes()
		etag, err := w.api.UploadPart(w.bucket, w.key, w.uploadID, partNumber, bytes.NewReader(chunk))
		if err != nil {
			w.mu.Unlock()
			_ = w.api.AbortMultipartUpload(w.bucket, w.key, w.uploadID)
			return mscerr.New(mscerr.Transport, "close", w.key, err)
		}
		w.completed = append(w.completed, backend.CompletedPart{PartNumber: partNumber, ETag: etag})
	}

	// pool.Wait must not be called with w.mu held: the still-running
	// upload goroutines spawned by flushFullPartsLocked need the lock
	// themselves to record their results before they return.
	w.mu.Unlock()
	waitErr := w.pool.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if waitErr != nil {
		_ = w.api.AbortMultipartUpload(w.bucket, w.key, w.uploadID)
		return mscerr.New(mscerr.Transport, "close", w.key, waitErr)
	}

	if _, err := w.api.CompleteMultipartUpload(w.bucket, w.key, w.uploadID, w.completed); err != nil {
		_ = w.api.AbortMultipartUpload(w.bucket, w.key, w.uploadID)
		return mscerr.New(mscerr.Transport, "close", w.key, err)
	}
	return nil
}

// Abort discards partial work instead of committing on Close (spec.md
// §4.7 "Failure"). The single-PUT path has nothing to clean up.
func (w *bufferedWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.aborted {
		return nil
	}
	w.aborted = true
	w.closed = true
	if w.multipart {
		return w.api.AbortMultipartUpload(w.bucket, w.key, w.uploadID)
	}
	return nil
}

// tailStart returns the absolute offset of the first byte still sitting
// unflushed in w.buf, used by seekWriter (C11) to bound its rewritable
// tail region.
func (w *bufferedWriter) tailStart() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalWritten - int64(w.buf.Len())
}

func (w *bufferedWriter) totalLen() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalWritten
}

// overwriteTail rewrites already-written-but-unflushed bytes in place.
// offset must fall entirely within [tailStart, totalWritten); bytes.Buffer
// exposes its remaining unread slice via Bytes(), which is exactly the
// still-mutable tail since flushFullPartsLocked only ever removes bytes
// from the front by reading them out.
func (w *bufferedWriter) overwriteTail(offset int64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := w.totalWritten - int64(w.buf.Len())
	end := w.totalWritten
	if offset < start || offset+int64(len(data)) > end {
		return mscerr.New(mscerr.Unsupported, "seek", w.key, nil)
	}
	b := w.buf.Bytes()
	copy(b[offset-start:], data)
	return nil
}

var (
	_ backend.WriteCloser = (*bufferedWriter)(nil)
	_ backend.Aborter     = (*bufferedWriter)(nil)
)
