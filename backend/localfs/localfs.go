// Package localfs implements the local filesystem backend (C5), delegating
// directly to OS primitives with the POSIX-deviation conventions spec.md
// §4.3 calls for (directory getsize/getmtime aggregation, is_file/is_dir
// not following symlinks by default).
package localfs

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/glob"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// Backend implements backend.Backend and backend.OptionalOps for local
// paths (scheme "file").
type Backend struct {
	md5Mu    sync.Mutex
	md5Cache map[string]md5CacheEntry // keyed on native path
}

// md5CacheEntry lets Md5(recalc=false) skip re-hashing a file whose size
// and mtime haven't changed, per SPEC_FULL.md §4.17.
type md5CacheEntry struct {
	size  int64
	mtime time.Time
	hash  string
}

// New returns a ready-to-register local filesystem backend.
func New() *Backend {
	return &Backend{md5Cache: make(map[string]md5CacheEntry)}
}

func (b *Backend) Identity() backend.Identity {
	return backend.Identity{Scheme: "file", Authority: ""}
}

func native(p mpath.Path) string {
	r := p.PathWithoutProtocol()
	if r == "" {
		return "."
	}
	return r
}

func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return mscerr.New(mscerr.NotFound, op, path, err)
	case os.IsExist(err):
		return mscerr.New(mscerr.AlreadyExists, op, path, err)
	case os.IsPermission(err):
		return mscerr.New(mscerr.PermissionDenied, op, path, err)
	default:
		return mscerr.New(mscerr.Unknown, op, path, err)
	}
}

func (b *Backend) Exists(p mpath.Path) (bool, error) {
	_, err := os.Lstat(native(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, wrapErr("exists", p.PathWithProtocol(), err)
}

func (b *Backend) IsDir(p mpath.Path) (bool, error) {
	fi, err := os.Lstat(native(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapErr("isdir", p.PathWithProtocol(), err)
	}
	return fi.IsDir(), nil
}

func (b *Backend) IsFile(p mpath.Path) (bool, error) {
	fi, err := os.Lstat(native(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapErr("isfile", p.PathWithProtocol(), err)
	}
	return !fi.IsDir(), nil
}

func (b *Backend) IsSymlink(p mpath.Path) (bool, error) {
	fi, err := os.Lstat(native(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapErr("islink", p.PathWithProtocol(), err)
	}
	return fi.Mode()&os.ModeSymlink != 0, nil
}

func (b *Backend) Stat(p mpath.Path, followSymlinks bool) (mpath.StatResult, error) {
	np := native(p)
	var fi os.FileInfo
	var err error
	if followSymlinks {
		fi, err = os.Stat(np)
	} else {
		fi, err = os.Lstat(np)
	}
	if err != nil {
		return mpath.StatResult{}, wrapErr("stat", p.PathWithProtocol(), err)
	}

	isLnk := fi.Mode()&os.ModeSymlink != 0
	size := fi.Size()
	mtime := fi.ModTime()

	if fi.IsDir() {
		size, mtime = aggregateDir(np)
	}

	return mpath.StatResult{
		Size:  size,
		MTime: timeToUnix(mtime),
		CTime: timeToUnix(ctimeOf(fi)),
		IsDir: fi.IsDir(),
		IsLnk: isLnk,
		Extra: localExtra{fi: fi},
	}, nil
}

// aggregateDir implements spec.md §4.3: getsize of a directory is the sum
// of lstat().size over descendants; getmtime is the max mtime over
// descendants (0 for an empty directory).
func aggregateDir(root string) (int64, time.Time) {
	var total int64
	var maxMTime time.Time
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == root {
			return nil
		}
		fi, lerr := os.Lstat(path)
		if lerr != nil {
			return nil
		}
		total += fi.Size()
		if fi.ModTime().After(maxMTime) {
			maxMTime = fi.ModTime()
		}
		return nil
	})
	return total, maxMTime
}

func timeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func ctimeOf(fi os.FileInfo) time.Time {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return fi.ModTime()
}

type localExtra struct {
	fi os.FileInfo
}

func (e localExtra) Mode() (uint32, bool) { return uint32(e.fi.Mode().Perm()) | modeTypeBits(e.fi), true }
func (e localExtra) Ino() (uint64, bool) {
	if st, ok := e.fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino, true
	}
	return 0, false
}
func (e localExtra) Nlink() (uint32, bool) {
	if st, ok := e.fi.Sys().(*syscall.Stat_t); ok {
		return uint32(st.Nlink), true
	}
	return 0, false
}
func (e localExtra) Uid() (uint32, bool) {
	if st, ok := e.fi.Sys().(*syscall.Stat_t); ok {
		return st.Uid, true
	}
	return 0, false
}
func (e localExtra) Gid() (uint32, bool) {
	if st, ok := e.fi.Sys().(*syscall.Stat_t); ok {
		return st.Gid, true
	}
	return 0, false
}

func modeTypeBits(fi os.FileInfo) uint32 {
	if fi.IsDir() {
		return syscall.S_IFDIR
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return syscall.S_IFLNK
	}
	return syscall.S_IFREG
}

func (b *Backend) Listdir(p mpath.Path) ([]string, error) {
	entries, err := os.ReadDir(native(p))
	if err != nil {
		return nil, wrapErr("listdir", p.PathWithProtocol(), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

type dirEntryIter struct {
	entries []mpath.FileEntry
	idx     int
}

func (it *dirEntryIter) Next() (mpath.FileEntry, bool) {
	if it.idx >= len(it.entries) {
		return mpath.FileEntry{}, false
	}
	e := it.entries[it.idx]
	it.idx++
	return e, true
}
func (it *dirEntryIter) Err() error   { return nil }
func (it *dirEntryIter) Close() error { return nil }

func (b *Backend) Scandir(p mpath.Path) (backend.DirEntryIter, error) {
	names, err := b.Listdir(p)
	if err != nil {
		return nil, err
	}
	entries := make([]mpath.FileEntry, 0, len(names))
	for _, n := range names {
		child := p.Join(n)
		st, serr := b.Stat(child, false)
		if serr != nil {
			continue
		}
		entries = append(entries, mpath.FileEntry{Name: n, Path: child.PathWithProtocol(), Stat: st})
	}
	return &dirEntryIter{entries: entries}, nil
}

type pathIter struct {
	paths []mpath.Path
	idx   int
}

func (it *pathIter) Next() (mpath.Path, bool) {
	if it.idx >= len(it.paths) {
		return mpath.Path{}, false
	}
	v := it.paths[it.idx]
	it.idx++
	return v, true
}
func (it *pathIter) Err() error   { return nil }
func (it *pathIter) Close() error { return nil }

func (b *Backend) Scan(p mpath.Path, missingOK, followLinks bool) (backend.PathIter, error) {
	var out []mpath.Path
	err := b.walkFiles(p, followLinks, func(fp mpath.Path, isDir bool) {
		if !isDir {
			out = append(out, fp)
		}
	})
	if err != nil {
		if missingOK {
			return &pathIter{}, nil
		}
		return nil, err
	}
	return &pathIter{paths: out}, nil
}

func (b *Backend) ScanStat(p mpath.Path, missingOK, followLinks bool) (backend.DirEntryIter, error) {
	var out []mpath.FileEntry
	err := b.walkFiles(p, followLinks, func(fp mpath.Path, isDir bool) {
		if isDir {
			return
		}
		st, serr := b.Stat(fp, followLinks)
		if serr != nil {
			return
		}
		out = append(out, mpath.FileEntry{Name: fp.Name(), Path: fp.PathWithProtocol(), Stat: st})
	})
	if err != nil {
		if missingOK {
			return &dirEntryIter{}, nil
		}
		return nil, err
	}
	return &dirEntryIter{entries: out}, nil
}

func (b *Backend) walkFiles(root mpath.Path, followLinks bool, visit func(mpath.Path, bool)) error {
	exists, err := b.Exists(root)
	if err != nil {
		return err
	}
	if !exists {
		return mscerr.NoSuchFile("scan", root.PathWithProtocol())
	}
	return filepath.WalkDir(native(root), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if native(root) == p {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, native(root)), "/")
		fp := root.Join(rel)
		visit(fp, d.IsDir())
		return nil
	})
}

type walkEntry = backend.WalkEntry

type walkIter struct {
	entries []walkEntry
	idx     int
}

func (it *walkIter) Next() (walkEntry, bool) {
	if it.idx >= len(it.entries) {
		return walkEntry{}, false
	}
	e := it.entries[it.idx]
	it.idx++
	return e, true
}
func (it *walkIter) Err() error   { return nil }
func (it *walkIter) Close() error { return nil }

func (b *Backend) Walk(p mpath.Path, followLinks bool) (backend.WalkIter, error) {
	var levels []walkEntry
	np := native(p)
	fi, err := os.Stat(np)
	if err != nil {
		return nil, wrapErr("walk", p.PathWithProtocol(), err)
	}
	if !fi.IsDir() {
		return nil, mscerr.New(mscerr.NotADirectory, "walk", p.PathWithProtocol(), nil)
	}

	var recurse func(dirPath mpath.Path) error
	recurse = func(dirPath mpath.Path) error {
		entries, rerr := os.ReadDir(native(dirPath))
		if rerr != nil {
			return wrapErr("walk", dirPath.PathWithProtocol(), rerr)
		}
		var dirs, files []string
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			} else {
				files = append(files, e.Name())
			}
		}
		sort.Strings(dirs)
		sort.Strings(files)
		levels = append(levels, walkEntry{Root: dirPath, Dirs: dirs, Files: files})
		for _, d := range dirs {
			if err := recurse(dirPath.Join(d)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := recurse(p); err != nil {
		return nil, err
	}
	return &walkIter{entries: levels}, nil
}

type globVFS struct {
	b *Backend
}

func (v globVFS) Exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
func (v globVFS) IsDir(p string) bool {
	fi, err := os.Lstat(p)
	return err == nil && fi.IsDir()
}
func (v globVFS) Scandir(dir string) ([]glob.Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]glob.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, glob.Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) Mkdir(p mpath.Path, mode uint32, parents, existOK bool) error {
	np := native(p)
	var err error
	if parents {
		err = os.MkdirAll(np, os.FileMode(mode))
	} else {
		err = os.Mkdir(np, os.FileMode(mode))
	}
	if err != nil {
		if os.IsExist(err) && existOK {
			return nil
		}
		return wrapErr("mkdir", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Remove(p mpath.Path, missingOK bool) error {
	err := os.RemoveAll(native(p))
	if err != nil {
		if os.IsNotExist(err) && missingOK {
			return nil
		}
		return wrapErr("remove", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Unlink(p mpath.Path, missingOK bool) error {
	err := os.Remove(native(p))
	if err != nil {
		if os.IsNotExist(err) && missingOK {
			return nil
		}
		return wrapErr("unlink", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Rmdir(p mpath.Path, missingOK bool) error {
	err := os.Remove(native(p))
	if err != nil {
		if os.IsNotExist(err) && missingOK {
			return nil
		}
		return wrapErr("rmdir", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Rename(src, dst mpath.Path, overwrite bool) error {
	if src.PathWithProtocol() == dst.PathWithProtocol() {
		return mscerr.New(mscerr.SameFile, "rename", src.PathWithProtocol(), nil)
	}
	if !overwrite {
		if exists, _ := b.Exists(dst); exists {
			return mscerr.New(mscerr.AlreadyExists, "rename", dst.PathWithProtocol(), nil)
		}
	}
	if err := os.Rename(native(src), native(dst)); err != nil {
		return wrapErr("rename", src.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Copy(src, dst mpath.Path, callback func(n int64), followLinks, overwrite bool) error {
	if src.PathWithProtocol() == dst.PathWithProtocol() {
		return mscerr.New(mscerr.SameFile, "copy", src.PathWithProtocol(), nil)
	}
	if !overwrite {
		if exists, _ := b.Exists(dst); exists {
			return mscerr.New(mscerr.AlreadyExists, "copy", dst.PathWithProtocol(), nil)
		}
	}
	sf, err := os.Open(native(src))
	if err != nil {
		return wrapErr("copy", src.PathWithProtocol(), err)
	}
	defer sf.Close()

	if err := os.MkdirAll(filepath.Dir(native(dst)), 0o755); err != nil {
		return wrapErr("copy", dst.PathWithProtocol(), err)
	}
	df, err := os.Create(native(dst))
	if err != nil {
		return wrapErr("copy", dst.PathWithProtocol(), err)
	}
	defer df.Close()

	buf := make([]byte, 16*1024)
	for {
		n, rerr := sf.Read(buf)
		if n > 0 {
			if _, werr := df.Write(buf[:n]); werr != nil {
				return wrapErr("copy", dst.PathWithProtocol(), werr)
			}
			if callback != nil {
				callback(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return wrapErr("copy", src.PathWithProtocol(), rerr)
		}
	}
	return nil
}

func (b *Backend) Sync(src, dst mpath.Path, followLinks, force, overwrite bool) error {
	return mscerr.New(mscerr.Unsupported, "sync", src.PathWithProtocol(), nil)
}

func (b *Backend) Open(p mpath.Path, opts backend.OpenOptions) (interface{}, error) {
	mode := opts.Mode
	if mode == "" {
		mode = "rb"
	}
	switch {
	case strings.HasPrefix(mode, "r"):
		f, err := os.Open(native(p))
		if err != nil {
			return nil, wrapErr("open", p.PathWithProtocol(), err)
		}
		return f, nil
	case strings.HasPrefix(mode, "a"):
		if err := os.MkdirAll(filepath.Dir(native(p)), 0o755); err != nil {
			return nil, wrapErr("open", p.PathWithProtocol(), err)
		}
		f, err := os.OpenFile(native(p), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, wrapErr("open", p.PathWithProtocol(), err)
		}
		return f, nil
	default: // "w"
		if err := os.MkdirAll(filepath.Dir(native(p)), 0o755); err != nil {
			return nil, wrapErr("open", p.PathWithProtocol(), err)
		}
		f, err := os.Create(native(p))
		if err != nil {
			return nil, wrapErr("open", p.PathWithProtocol(), err)
		}
		return f, nil
	}
}

func (b *Backend) Load(p mpath.Path) (io.ReadCloser, error) {
	f, err := os.Open(native(p))
	if err != nil {
		return nil, wrapErr("load", p.PathWithProtocol(), err)
	}
	return f, nil
}

func (b *Backend) Save(p mpath.Path, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(native(p)), 0o755); err != nil {
		return wrapErr("save", p.PathWithProtocol(), err)
	}
	f, err := os.Create(native(p))
	if err != nil {
		return wrapErr("save", p.PathWithProtocol(), err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return wrapErr("save", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Md5(p mpath.Path, recalc, followLinks bool) (string, error) {
	np := native(p)
	fi, err := os.Stat(np)
	if err != nil {
		return "", wrapErr("md5", p.PathWithProtocol(), err)
	}

	b.md5Mu.Lock()
	if !recalc {
		if entry, ok := b.md5Cache[np]; ok && entry.size == fi.Size() && entry.mtime.Equal(fi.ModTime()) {
			b.md5Mu.Unlock()
			return entry.hash, nil
		}
	}
	b.md5Mu.Unlock()

	f, err := os.Open(np)
	if err != nil {
		return "", wrapErr("md5", p.PathWithProtocol(), err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", wrapErr("md5", p.PathWithProtocol(), err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	b.md5Mu.Lock()
	b.md5Cache[np] = md5CacheEntry{size: fi.Size(), mtime: fi.ModTime(), hash: sum}
	b.md5Mu.Unlock()

	return sum, nil
}

func (b *Backend) Getmtime(p mpath.Path) (float64, error) {
	st, err := b.Stat(p, false)
	if err != nil {
		return 0, err
	}
	return st.MTime, nil
}

func (b *Backend) Getsize(p mpath.Path) (int64, error) {
	st, err := b.Stat(p, false)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

// --- OptionalOps ---

func (b *Backend) Symlink(target, link mpath.Path) error {
	if err := os.Symlink(native(target), native(link)); err != nil {
		return wrapErr("symlink", link.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Readlink(p mpath.Path) (mpath.Path, error) {
	target, err := os.Readlink(native(p))
	if err != nil {
		return mpath.Path{}, wrapErr("readlink", p.PathWithProtocol(), err)
	}
	return mpath.New(target), nil
}

func (b *Backend) Chmod(p mpath.Path, mode uint32, followSymlinks bool) error {
	if err := os.Chmod(native(p), os.FileMode(mode)); err != nil {
		return wrapErr("chmod", p.PathWithProtocol(), err)
	}
	return nil
}

func (b *Backend) Absolute(p mpath.Path) (mpath.Path, error) {
	abs, err := filepath.Abs(native(p))
	if err != nil {
		return mpath.Path{}, wrapErr("absolute", p.PathWithProtocol(), err)
	}
	return mpath.New(abs), nil
}

func (b *Backend) Resolve(p mpath.Path, strict bool) (mpath.Path, error) {
	resolved, err := filepath.EvalSymlinks(native(p))
	if err != nil {
		if strict {
			return mpath.Path{}, wrapErr("resolve", p.PathWithProtocol(), err)
		}
		return b.Absolute(p)
	}
	return mpath.New(resolved), nil
}

func (b *Backend) Home() (mpath.Path, error) {
	u, err := user.Current()
	if err != nil {
		return mpath.Path{}, mscerr.New(mscerr.Unknown, "home", "", err)
	}
	return mpath.New(u.HomeDir), nil
}

func (b *Backend) Cwd() (mpath.Path, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return mpath.Path{}, mscerr.New(mscerr.Unknown, "cwd", "", err)
	}
	return mpath.New(cwd), nil
}

func (b *Backend) Expanduser(p mpath.Path) (mpath.Path, error) {
	r := p.PathWithoutProtocol()
	if r == "~" || strings.HasPrefix(r, "~/") {
		home, err := b.Home()
		if err != nil {
			return mpath.Path{}, err
		}
		return mpath.New(home.PathWithoutProtocol() + strings.TrimPrefix(r, "~")), nil
	}
	return p, nil
}

func (b *Backend) Utime(p mpath.Path, atime, mtime float64) error {
	at := time.Unix(int64(atime), 0)
	mt := time.Unix(int64(mtime), 0)
	if err := os.Chtimes(native(p), at, mt); err != nil {
		return wrapErr("utime", p.PathWithProtocol(), err)
	}
	return nil
}

// GlobVFS adapts this backend to glob.VFS, rooted at the local filesystem.
func (b *Backend) GlobVFS() glob.VFS {
	return globVFS{b: b}
}

// Glob implements backend.Backend.Glob (C2) against the local filesystem.
func (b *Backend) Glob(p mpath.Path, recursive, missingOK bool) (backend.PathIter, error) {
	matches, err := glob.Glob(native(p), b.GlobVFS(), recursive, missingOK)
	if err != nil {
		return nil, err
	}
	paths := make([]mpath.Path, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, mpath.New(m))
	}
	return &pathIter{paths: paths}, nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.OptionalOps = (*Backend)(nil)
