package webdav

import (
	"bytes"
	"io"
	"strings"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// memoryHandle buffers a WebDAV resource entirely in memory, the same
// shape backend/s3's memoryHandle uses for its C13 fallback: readable
// modes GET the whole body at open time, writable modes accumulate writes
// into the buffer, and the buffer PUTs as a single request on Close. This
// is webdav's only write path (there is no multipart analogue to a PUT),
// and its read fallback for servers that don't advertise byte ranges
// (spec.md §4.12).
type memoryHandle struct {
	b *Backend
	p mpath.Path
	r remote

	buf      []byte
	pos      int
	readable bool
	writable bool
	dirty    bool
}

func (b *Backend) openMemoryHandle(p mpath.Path, mode string) (*memoryHandle, error) {
	r, err := parseRemote(p)
	if err != nil {
		return nil, err
	}
	h := &memoryHandle{
		b: b, p: p, r: r,
		readable: !strings.HasPrefix(mode, "w"),
		writable: strings.ContainsAny(mode, "wa") || strings.Contains(mode, "+"),
	}
	appending := strings.HasPrefix(mode, "a")

	if h.readable || appending {
		resp, getErr := b.do(r, "GET", r.hostKey()+r.path, nil, nil)
		switch {
		case getErr == nil:
			defer resp.Body.Close()
			data, rerr := io.ReadAll(resp.Body)
			if rerr != nil {
				return nil, mscerr.New(mscerr.Transport, "open", p.PathWithProtocol(), rerr)
			}
			h.buf = data
		case appending && mscerr.Is(getErr, mscerr.NotFound):
			h.buf = []byte{}
		default:
			return nil, getErr
		}
	}
	if appending {
		h.pos = len(h.buf)
	}
	return h, nil
}

func (h *memoryHandle) Read(p []byte) (int, error) {
	if !h.readable {
		return 0, mscerr.New(mscerr.Unsupported, "read", h.p.PathWithProtocol(), nil)
	}
	if h.pos >= len(h.buf) {
		return 0, io.EOF
	}
	n := copy(p, h.buf[h.pos:])
	h.pos += n
	return n, nil
}

func (h *memoryHandle) Write(p []byte) (int, error) {
	if !h.writable {
		return 0, mscerr.New(mscerr.Unsupported, "write", h.p.PathWithProtocol(), nil)
	}
	end := h.pos + len(p)
	if end > len(h.buf) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[h.pos:end], p)
	h.pos = end
	h.dirty = true
	return len(p), nil
}

func (h *memoryHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(h.pos)
	case io.SeekEnd:
		base = int64(len(h.buf))
	default:
		return 0, mscerr.New(mscerr.Unsupported, "seek", h.p.PathWithProtocol(), nil)
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, mscerr.New(mscerr.Unsupported, "seek", h.p.PathWithProtocol(), nil)
	}
	h.pos = int(newPos)
	return newPos, nil
}

func (h *memoryHandle) Abort() error {
	h.dirty = false
	return nil
}

func (h *memoryHandle) Close() error {
	if !h.writable || !h.dirty {
		return nil
	}
	resp, err := h.b.do(h.r, "PUT", h.r.hostKey()+h.r.path, map[string]string{
		"Content-Type": "application/octet-stream",
	}, bytes.NewReader(h.buf))
	if err != nil {
		return err
	}
	resp.Body.Close()
	h.dirty = false
	return nil
}

var (
	_ backend.ReadSeekCloser = (*memoryHandle)(nil)
	_ backend.WriteCloser    = (*memoryHandle)(nil)
	_ backend.Aborter        = (*memoryHandle)(nil)
)
