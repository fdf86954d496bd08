// Package hdfs implements the WebHDFS backend (C14): directory listing,
// stat, mkdir/delete/rename and open/save expressed as WebHDFS REST calls
// over the injected backend.HTTPClient (spec.md §4.11), never a hard-wired
// HTTP library.
package hdfs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/glob"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// Config tunes one WebHDFS connection profile (spec.md §6 HDFS_* env vars,
// loaded by mscconfig and handed to New per profile).
type Config struct {
	BaseURL     string // e.g. "http://namenode:9870"
	User        string
	Root        string // path prefix prepended to every request
	Token       string // bearer token; when set, takes precedence over User
	Timeout     time.Duration
	BlockSize   int64 // C14 prefetch reader block size, default 8 MiB
	WriteChunk  int64 // CREATE/APPEND chunk size, default 8 MiB
}

const (
	defaultBlockSize  = 8 << 20
	defaultWriteChunk = 8 << 20
)

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.WriteChunk <= 0 {
		c.WriteChunk = defaultWriteChunk
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Backend implements backend.Backend for the "hdfs"/"hdfs+<profile>"
// schemes.
type Backend struct {
	http    backend.HTTPClient
	profile string
	cfg     Config
}

// New wires an HDFS backend against an injected backend.HTTPClient;
// production code passes an httpx.Client, tests pass a fake.
func New(client backend.HTTPClient, profile string, cfg Config) *Backend {
	return &Backend{http: client, profile: profile, cfg: cfg.withDefaults()}
}

func (b *Backend) Identity() backend.Identity {
	return backend.Identity{Scheme: "hdfs", Authority: b.profile}
}

// remotePath maps a Path's remainder onto the absolute HDFS path the
// NameNode expects, under the configured Root.
func (b *Backend) remotePath(p mpath.Path) string {
	r := strings.TrimPrefix(p.PathWithoutProtocol(), "/")
	root := strings.TrimSuffix(b.cfg.Root, "/")
	if r == "" {
		if root == "" {
			return "/"
		}
		return root
	}
	return root + "/" + r
}

func (b *Backend) endpoint(op, remote string, extra url.Values) string {
	q := url.Values{}
	q.Set("op", op)
	if b.cfg.Token != "" {
		q.Set("delegation", b.cfg.Token)
	} else if b.cfg.User != "" {
		q.Set("user.name", b.cfg.User)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	base := strings.TrimSuffix(b.cfg.BaseURL, "/")
	escaped := (&url.URL{Path: "/webhdfs/v1" + remote}).EscapedPath()
	return base + escaped + "?" + q.Encode()
}

type remoteException struct {
	Exception     string `json:"exception"`
	Message       string `json:"message"`
	JavaClassName string `json:"javaClassName"`
}

type remoteExceptionEnvelope struct {
	RemoteException remoteException `json:"RemoteException"`
}

func (b *Backend) do(method, op, path, remote string, extra url.Values, body io.Reader) (*backend.HTTPResponse, error) {
	resp, err := b.http.Do(method, b.endpoint(op, remote, extra), nil, body, b.cfg.Timeout)
	if err != nil {
		return nil, mscerr.New(mscerr.Transport, strings.ToLower(op), path, err)
	}
	if resp.Status >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, translateWebHDFSErr(strings.ToLower(op), path, resp.Status, data)
	}
	return resp, nil
}

func translateWebHDFSErr(op, path string, status int, body []byte) error {
	var env remoteExceptionEnvelope
	_ = json.Unmarshal(body, &env)
	cause := fmt.Errorf("status %d: %s", status, string(body))
	switch {
	case status == 404 || env.RemoteException.Exception == "FileNotFoundException":
		return mscerr.New(mscerr.NotFound, op, path, cause)
	case status == 403 || env.RemoteException.Exception == "AccessControlException":
		return mscerr.New(mscerr.PermissionDenied, op, path, cause)
	case env.RemoteException.Exception == "FileAlreadyExistsException":
		return mscerr.New(mscerr.AlreadyExists, op, path, cause)
	case status >= 500 || status == 429:
		return mscerr.New(mscerr.Transport, op, path, cause)
	default:
		return mscerr.New(mscerr.Unknown, op, path, cause)
	}
}

// fileStatus mirrors the subset of WebHDFS's FileStatus JSON object this
// backend consumes.
type fileStatus struct {
	Type              string `json:"type"` // "FILE" | "DIRECTORY" | "SYMLINK"
	Length            int64  `json:"length"`
	ModificationTime  int64  `json:"modificationTime"` // ms since epoch
	Permission        string `json:"permission"`
	Owner             string `json:"owner"`
	Group             string `json:"group"`
	PathSuffix        string `json:"pathSuffix"`
	SymlinkTarget     string `json:"symlink"`
}

type fileStatusEnvelope struct {
	FileStatus fileStatus `json:"FileStatus"`
}

type listStatusEnvelope struct {
	FileStatuses struct {
		FileStatus []fileStatus `json:"FileStatus"`
	} `json:"FileStatuses"`
}

func (b *Backend) getFileStatus(path, remote string) (fileStatus, error) {
	resp, err := b.do("GET", "GETFILESTATUS", path, remote, nil, nil)
	if err != nil {
		return fileStatus{}, err
	}
	defer resp.Body.Close()
	var env fileStatusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fileStatus{}, mscerr.New(mscerr.Unknown, "stat", path, err)
	}
	return env.FileStatus, nil
}

func (b *Backend) Exists(p mpath.Path) (bool, error) {
	_, err := b.getFileStatus(p.PathWithProtocol(), b.remotePath(p))
	if err == nil {
		return true, nil
	}
	if mscerr.Is(err, mscerr.NotFound) {
		return false, nil
	}
	return false, err
}

func (b *Backend) IsDir(p mpath.Path) (bool, error) {
	st, err := b.getFileStatus(p.PathWithProtocol(), b.remotePath(p))
	if err != nil {
		if mscerr.Is(err, mscerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return st.Type == "DIRECTORY", nil
}

func (b *Backend) IsFile(p mpath.Path) (bool, error) {
	st, err := b.getFileStatus(p.PathWithProtocol(), b.remotePath(p))
	if err != nil {
		if mscerr.Is(err, mscerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return st.Type != "DIRECTORY", nil
}

// IsSymlink always reports false: WebHDFS's REST surface exposes a
// "symlink" field but the HDFS backends in production deployments almost
// never enable symlink support, and spec.md doesn't ask HDFS to emulate
// one.
func (b *Backend) IsSymlink(p mpath.Path) (bool, error) { return false, nil }

func toExtra(st fileStatus) mpath.StatResult {
	return mpath.StatResult{
		Size:  st.Length,
		MTime: float64(st.ModificationTime) / 1000,
		IsDir: st.Type == "DIRECTORY",
		Extra: hdfsExtra{owner: st.Owner, group: st.Group, permission: st.Permission},
	}
}

type hdfsExtra struct {
	owner, group, permission string
}

func (e hdfsExtra) Mode() (uint32, bool) {
	if e.permission == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(e.permission, 8, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
func (e hdfsExtra) Ino() (uint64, bool)   { return 0, false }
func (e hdfsExtra) Nlink() (uint32, bool) { return 0, false }
func (e hdfsExtra) Uid() (uint32, bool)   { return 0, false }
func (e hdfsExtra) Gid() (uint32, bool)   { return 0, false }

func (b *Backend) Stat(p mpath.Path, followSymlinks bool) (mpath.StatResult, error) {
	st, err := b.getFileStatus(p.PathWithProtocol(), b.remotePath(p))
	if err != nil {
		return mpath.StatResult{}, err
	}
	if st.Type == "DIRECTORY" {
		// getmtime/getsize on a directory aggregate over descendants
		// (spec.md §4.3's convention, applied to HDFS too per SPEC_FULL.md).
		size, mtime, aggErr := b.aggregateDir(p)
		if aggErr == nil {
			return mpath.StatResult{Size: size, MTime: mtime, IsDir: true}, nil
		}
	}
	return toExtra(st), nil
}

func (b *Backend) aggregateDir(p mpath.Path) (size int64, mtime float64, err error) {
	it, err := b.ScanStat(p, false, false)
	if err != nil {
		return 0, 0, err
	}
	defer it.Close()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		size += e.Stat.Size
		if e.Stat.MTime > mtime {
			mtime = e.Stat.MTime
		}
	}
	return size, mtime, nil
}

func (b *Backend) listStatus(path, remote string) ([]fileStatus, error) {
	resp, err := b.do("GET", "LISTSTATUS", path, remote, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env listStatusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, mscerr.New(mscerr.Unknown, "listdir", path, err)
	}
	sort.Slice(env.FileStatuses.FileStatus, func(i, j int) bool {
		return env.FileStatuses.FileStatus[i].PathSuffix < env.FileStatuses.FileStatus[j].PathSuffix
	})
	return env.FileStatuses.FileStatus, nil
}

func (b *Backend) Listdir(p mpath.Path) ([]string, error) {
	entries, err := b.listStatus(p.PathWithProtocol(), b.remotePath(p))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.PathSuffix)
	}
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
	entries, err := b.listStatus(p.PathWithProtocol(), b.remotePath(p))
	if err != nil {
		return nil, err
	}
	out := make([]mpath.FileEntry, 0, len(entries))
	for _, e := range entries {
		child := p.Join(e.PathSuffix)
		out = append(out, mpath.FileEntry{Name: e.PathSuffix, Path: child.PathWithProtocol(), Stat: toExtra(e)})
	}
	return &dirEntryIter{entries: out}, nil
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

func (b *Backend) walkRecursive(root mpath.Path, visit func(child mpath.Path, st fileStatus)) error {
	entries, err := b.listStatus(root.PathWithProtocol(), b.remotePath(root))
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := root.Join(e.PathSuffix)
		if e.Type == "DIRECTORY" {
			if err := b.walkRecursive(child, visit); err != nil {
				return err
			}
			continue
		}
		visit(child, e)
	}
	return nil
}

func (b *Backend) Scan(p mpath.Path, missingOK, followLinks bool) (backend.PathIter, error) {
	var out []mpath.Path
	err := b.walkRecursive(p, func(child mpath.Path, st fileStatus) {
		out = append(out, child)
	})
	if err != nil {
		if missingOK && mscerr.Is(err, mscerr.NotFound) {
			return &pathIter{}, nil
		}
		return nil, err
	}
	return &pathIter{paths: out}, nil
}

func (b *Backend) ScanStat(p mpath.Path, missingOK, followLinks bool) (backend.DirEntryIter, error) {
	var out []mpath.FileEntry
	err := b.walkRecursive(p, func(child mpath.Path, st fileStatus) {
		out = append(out, mpath.FileEntry{Name: child.Name(), Path: child.PathWithProtocol(), Stat: toExtra(st)})
	})
	if err != nil {
		if missingOK && mscerr.Is(err, mscerr.NotFound) {
			return &dirEntryIter{}, nil
		}
		return nil, err
	}
	return &dirEntryIter{entries: out}, nil
}

type walkIter struct {
	entries []backend.WalkEntry
	idx     int
}

func (it *walkIter) Next() (backend.WalkEntry, bool) {
	if it.idx >= len(it.entries) {
		return backend.WalkEntry{}, false
	}
	e := it.entries[it.idx]
	it.idx++
	return e, true
}
func (it *walkIter) Err() error   { return nil }
func (it *walkIter) Close() error { return nil }

func (b *Backend) Walk(p mpath.Path, followLinks bool) (backend.WalkIter, error) {
	var levels []backend.WalkEntry
	var recurse func(dirPath mpath.Path) error
	recurse = func(dirPath mpath.Path) error {
		entries, err := b.listStatus(dirPath.PathWithProtocol(), b.remotePath(dirPath))
		if err != nil {
			return err
		}
		var dirs, files []string
		for _, e := range entries {
			if e.Type == "DIRECTORY" {
				dirs = append(dirs, e.PathSuffix)
			} else {
				files = append(files, e.PathSuffix)
			}
		}
		levels = append(levels, backend.WalkEntry{Root: dirPath, Dirs: dirs, Files: files})
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

// hdfsGlobVFS adapts a Backend to glob.VFS, rooted at one WebHDFS
// connection's namespace.
type hdfsGlobVFS struct {
	b      *Backend
	scheme string
}

func (v hdfsGlobVFS) Exists(path string) bool {
	exists, _ := v.b.Exists(mpath.FromParts(v.scheme, path))
	return exists
}

func (v hdfsGlobVFS) IsDir(path string) bool {
	isDir, _ := v.b.IsDir(mpath.FromParts(v.scheme, path))
	return isDir
}

func (v hdfsGlobVFS) Scandir(dir string) ([]glob.Entry, error) {
	p := mpath.FromParts(v.scheme, dir)
	entries, err := v.b.listStatus(p.PathWithProtocol(), v.b.remotePath(p))
	if err != nil {
		return nil, err
	}
	out := make([]glob.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, glob.Entry{Name: e.PathSuffix, IsDir: e.Type == "DIRECTORY"})
	}
	return out, nil
}

// Glob implements backend.Backend.Glob (C2) against a WebHDFS namespace.
func (b *Backend) Glob(p mpath.Path, recursive, missingOK bool) (backend.PathIter, error) {
	scheme := p.Protocol()
	matches, err := glob.Glob(p.PathWithoutProtocol(), hdfsGlobVFS{b: b, scheme: scheme}, recursive, missingOK)
	if err != nil {
		return nil, err
	}
	paths := make([]mpath.Path, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, mpath.FromParts(scheme, m))
	}
	return &pathIter{paths: paths}, nil
}

func (b *Backend) Mkdir(p mpath.Path, mode uint32, parents, existOK bool) error {
	if !parents && !existOK {
		if exists, _ := b.Exists(p); exists {
			return mscerr.New(mscerr.AlreadyExists, "mkdir", p.PathWithProtocol(), nil)
		}
	}
	extra := url.Values{}
	if mode != 0 {
		extra.Set("permission", fmt.Sprintf("%o", mode))
	}
	resp, err := b.do("PUT", "MKDIRS", p.PathWithProtocol(), b.remotePath(p), extra, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *Backend) remove(p mpath.Path, recursive, missingOK bool) error {
	extra := url.Values{}
	extra.Set("recursive", strconv.FormatBool(recursive))
	resp, err := b.do("DELETE", "DELETE", p.PathWithProtocol(), b.remotePath(p), extra, nil)
	if err != nil {
		if missingOK && mscerr.Is(err, mscerr.NotFound) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *Backend) Remove(p mpath.Path, missingOK bool) error { return b.remove(p, true, missingOK) }
func (b *Backend) Unlink(p mpath.Path, missingOK bool) error { return b.remove(p, false, missingOK) }
func (b *Backend) Rmdir(p mpath.Path, missingOK bool) error  { return b.remove(p, false, missingOK) }

func (b *Backend) Rename(src, dst mpath.Path, overwrite bool) error {
	if src.PathWithProtocol() == dst.PathWithProtocol() {
		return mscerr.New(mscerr.SameFile, "rename", src.PathWithProtocol(), nil)
	}
	if !overwrite {
		if exists, _ := b.Exists(dst); exists {
			return mscerr.New(mscerr.AlreadyExists, "rename", dst.PathWithProtocol(), nil)
		}
	}
	extra := url.Values{}
	extra.Set("destination", b.remotePath(dst))
	resp, err := b.do("PUT", "RENAME", src.PathWithProtocol(), b.remotePath(src), extra, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Copy has no server-side WebHDFS primitive; it streams through Load/Save,
// same as the cross-backend fallback transfer.Copy would otherwise take
// (spec.md §4.14).
func (b *Backend) Copy(src, dst mpath.Path, callback func(n int64), followLinks, overwrite bool) error {
	if src.PathWithProtocol() == dst.PathWithProtocol() {
		return mscerr.New(mscerr.SameFile, "copy", src.PathWithProtocol(), nil)
	}
	if !overwrite {
		if exists, _ := b.Exists(dst); exists {
			return mscerr.New(mscerr.AlreadyExists, "copy", dst.PathWithProtocol(), nil)
		}
	}
	rc, err := b.Load(src)
	if err != nil {
		return err
	}
	defer rc.Close()
	w := newWriter(b, dst, "CREATE")
	buf := make([]byte, 16*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if callback != nil {
				callback(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return mscerr.New(mscerr.Transport, "copy", src.PathWithProtocol(), rerr)
		}
	}
	return w.Close()
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
		cfg := b.cfg
		if opts.BlockSize > 0 {
			cfg.BlockSize = opts.BlockSize
		}
		return newPrefetchReader(b, p, cfg)
	case strings.HasPrefix(mode, "a"):
		return newWriter(b, p, "APPEND"), nil
	default:
		return newWriter(b, p, "CREATE"), nil
	}
}

func (b *Backend) Load(p mpath.Path) (io.ReadCloser, error) {
	resp, err := b.do("GET", "OPEN", p.PathWithProtocol(), b.remotePath(p), nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (b *Backend) Save(p mpath.Path, r io.Reader) error {
	w := newWriter(b, p, "CREATE")
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return w.Close()
}

// Md5 hashes file content directly (WebHDFS's native GETFILECHECKSUM op
// returns an MD5-of-CRC composite, not a plain content MD5, so this reads
// and hashes the bytes instead, matching every other backend's Md5
// contract). Directory Md5 is the MD5 of concatenated, sorted child hex
// MD5 strings (spec.md §4.11).
func (b *Backend) Md5(p mpath.Path, recalc, followLinks bool) (string, error) {
	isDir, err := b.IsDir(p)
	if err != nil {
		return "", err
	}
	if !isDir {
		rc, err := b.Load(p)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return md5Stream(rc)
	}
	names, err := b.Listdir(p)
	if err != nil {
		return "", err
	}
	sort.Strings(names)
	var all strings.Builder
	for _, n := range names {
		h, err := b.Md5(p.Join(n), recalc, followLinks)
		if err == nil {
			all.WriteString(h)
		}
	}
	return md5String(all.String())
}

func (b *Backend) Getmtime(p mpath.Path) (float64, error) {
	st, err := b.Stat(p, false)
	return st.MTime, err
}

func (b *Backend) Getsize(p mpath.Path) (int64, error) {
	st, err := b.Stat(p, false)
	return st.Size, err
}

var _ backend.Backend = (*Backend)(nil)
