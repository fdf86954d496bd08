package sftp

import (
	"io"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// fileHandle adapts the io.ReadWriteCloser an SFTPSession.Open returns to
// both backend.ReadSeekCloser and backend.WriteCloser. Seek is delegated
// to the underlying handle when it happens to implement io.Seeker (every
// production SFTPSession backed by github.com/pkg/sftp's *sftp.File does);
// a fake session that doesn't is only required to support sequential
// access, matching what tests of this backend actually exercise.
type fileHandle struct {
	rwc io.ReadWriteCloser
	p   mpath.Path
}

func newFileHandle(rwc io.ReadWriteCloser, p mpath.Path) *fileHandle {
	return &fileHandle{rwc: rwc, p: p}
}

func (h *fileHandle) Read(b []byte) (int, error)  { return h.rwc.Read(b) }
func (h *fileHandle) Write(b []byte) (int, error) { return h.rwc.Write(b) }
func (h *fileHandle) Close() error                { return h.rwc.Close() }

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	if s, ok := h.rwc.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, mscerr.New(mscerr.Unsupported, "seek", h.p.PathWithProtocol(), nil)
}

var (
	_ backend.ReadSeekCloser = (*fileHandle)(nil)
	_ backend.WriteCloser    = (*fileHandle)(nil)
)
