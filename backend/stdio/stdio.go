// Package stdio implements the stdio backend (C6): stdin/stdout/stderr
// exposed as paths under the "stdio" scheme (spec.md §6:
// stdio://-, stdio://0, stdio://1, stdio://2). Most Backend operations are
// meaningless on a stream and return mscerr.Unsupported.
package stdio

import (
	"io"
	"os"
	"time"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// Backend implements backend.Backend for the "stdio" scheme.
type Backend struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New wires stdio to the process's real standard streams.
func New() *Backend {
	return &Backend{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (b *Backend) Identity() backend.Identity {
	return backend.Identity{Scheme: "stdio", Authority: ""}
}

// streamOf resolves a remainder ("-", "0", "1", "2") to the matching stream.
func (b *Backend) streamOf(remainder string) (interface{}, error) {
	switch remainder {
	case "-", "0":
		return b.Stdin, nil
	case "1":
		return b.Stdout, nil
	case "2":
		return b.Stderr, nil
	default:
		return nil, mscerr.New(mscerr.NotFound, "stdio", remainder, nil)
	}
}

func unsupported(op string, p mpath.Path) error {
	return mscerr.New(mscerr.Unsupported, op, p.PathWithProtocol(), nil)
}

func (b *Backend) Exists(p mpath.Path) (bool, error) {
	_, err := b.streamOf(p.PathWithoutProtocol())
	return err == nil, nil
}

func (b *Backend) IsDir(p mpath.Path) (bool, error)  { return false, nil }
func (b *Backend) IsFile(p mpath.Path) (bool, error) { return b.Exists(p) }
func (b *Backend) IsSymlink(p mpath.Path) (bool, error) {
	return false, nil
}

func (b *Backend) Stat(p mpath.Path, followSymlinks bool) (mpath.StatResult, error) {
	if _, err := b.streamOf(p.PathWithoutProtocol()); err != nil {
		return mpath.StatResult{}, err
	}
	return mpath.StatResult{MTime: float64(time.Now().Unix())}, nil
}

func (b *Backend) Listdir(p mpath.Path) ([]string, error) { return nil, unsupported("listdir", p) }
func (b *Backend) Scandir(p mpath.Path) (backend.DirEntryIter, error) {
	return nil, unsupported("scandir", p)
}
func (b *Backend) Scan(p mpath.Path, missingOK, followLinks bool) (backend.PathIter, error) {
	return nil, unsupported("scan", p)
}
func (b *Backend) ScanStat(p mpath.Path, missingOK, followLinks bool) (backend.DirEntryIter, error) {
	return nil, unsupported("scanstat", p)
}
func (b *Backend) Walk(p mpath.Path, followLinks bool) (backend.WalkIter, error) {
	return nil, unsupported("walk", p)
}
func (b *Backend) Glob(p mpath.Path, recursive, missingOK bool) (backend.PathIter, error) {
	return nil, unsupported("glob", p)
}

func (b *Backend) Mkdir(p mpath.Path, mode uint32, parents, existOK bool) error {
	return unsupported("mkdir", p)
}
func (b *Backend) Remove(p mpath.Path, missingOK bool) error { return unsupported("remove", p) }
func (b *Backend) Unlink(p mpath.Path, missingOK bool) error { return unsupported("unlink", p) }
func (b *Backend) Rmdir(p mpath.Path, missingOK bool) error  { return unsupported("rmdir", p) }

func (b *Backend) Rename(src, dst mpath.Path, overwrite bool) error {
	return unsupported("rename", src)
}
func (b *Backend) Copy(src, dst mpath.Path, callback func(n int64), followLinks, overwrite bool) error {
	return unsupported("copy", src)
}
func (b *Backend) Sync(src, dst mpath.Path, followLinks, force, overwrite bool) error {
	return unsupported("sync", src)
}

// streamReadCloser wraps an io.Reader (stdin) so it satisfies the
// ReadSeekCloser shape Open's read mode promises; Seek always fails since a
// process's stdin is not normally seekable.
type streamReadCloser struct {
	io.Reader
}

func (streamReadCloser) Seek(offset int64, whence int) (int64, error) {
	return 0, mscerr.New(mscerr.Unsupported, "seek", "stdio://-", nil)
}
func (streamReadCloser) Close() error { return nil }

// streamWriteCloser wraps an io.Writer (stdout/stderr) as a WriteCloser;
// Close is a no-op since closing the real stream would break the process.
type streamWriteCloser struct {
	io.Writer
}

func (streamWriteCloser) Close() error { return nil }

func (b *Backend) Open(p mpath.Path, opts backend.OpenOptions) (interface{}, error) {
	stream, err := b.streamOf(p.PathWithoutProtocol())
	if err != nil {
		return nil, err
	}
	if stream == b.Stdin {
		return streamReadCloser{Reader: b.Stdin}, nil
	}
	if w, ok := stream.(io.Writer); ok {
		return streamWriteCloser{Writer: w}, nil
	}
	return nil, unsupported("open", p)
}

func (b *Backend) Load(p mpath.Path) (io.ReadCloser, error) {
	stream, err := b.streamOf(p.PathWithoutProtocol())
	if err != nil {
		return nil, err
	}
	r, ok := stream.(io.Reader)
	if !ok {
		return nil, unsupported("load", p)
	}
	return io.NopCloser(r), nil
}

func (b *Backend) Save(p mpath.Path, r io.Reader) error {
	stream, err := b.streamOf(p.PathWithoutProtocol())
	if err != nil {
		return err
	}
	w, ok := stream.(io.Writer)
	if !ok {
		return unsupported("save", p)
	}
	_, werr := io.Copy(w, r)
	return werr
}

func (b *Backend) Md5(p mpath.Path, recalc, followLinks bool) (string, error) {
	return "", unsupported("md5", p)
}
func (b *Backend) Getmtime(p mpath.Path) (float64, error) {
	st, err := b.Stat(p, false)
	return st.MTime, err
}
func (b *Backend) Getsize(p mpath.Path) (int64, error) { return 0, unsupported("getsize", p) }

var _ backend.Backend = (*Backend)(nil)
