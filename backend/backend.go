// Package backend defines the operation set every storage backend must
// implement (spec.md §4.2), the small set of collaborator interfaces the
// core accepts by injection rather than hard-wiring a concrete SDK
// (spec.md §6), and the process-wide scheme registry (spec.md §4.1).
package backend

import (
	"io"
	"time"

	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// Identity names the (scheme, authority) pair two paths must share for a
// server-side (same-backend) operation to be permissible. GLOSSARY:
// "Same-backend".
type Identity struct {
	Scheme    string
	Authority string
}

// ReadSeekCloser is the interface returned by Open in read modes.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// WriteCloser is the interface returned by Open in write/append modes. A
// forgotten Close on a writer that began a multipart upload leaves it
// uncommitted; callers must always Close (or Abort).
type WriteCloser interface {
	io.Writer
	io.Closer
}

// Aborter is implemented by writers that support discarding partial work
// instead of committing on Close (spec.md §4.7 "Failure").
type Aborter interface {
	Abort() error
}

// DirEntryIter is a lazy, explicitly-closed iterator over FileEntry values
// (spec.md §9 "Generators for lazy listings"). Next returns (entry, false)
// once exhausted; callers that stop early MUST call Close to release
// backend resources (an open page request, a directory handle, ...).
type DirEntryIter interface {
	Next() (mpath.FileEntry, bool)
	Err() error
	Close() error
}

// PathIter is the glob/scan equivalent of DirEntryIter for callers that
// only need the path string.
type PathIter interface {
	Next() (mpath.Path, bool)
	Err() error
	Close() error
}

// WalkEntry is one level of a top-down Walk.
type WalkEntry struct {
	Root  mpath.Path
	Dirs  []string
	Files []string
}

// WalkIter iterates WalkEntry values top-down, each level pre-sorted.
type WalkIter interface {
	Next() (WalkEntry, bool)
	Err() error
	Close() error
}

// OpenOptions configures Open; zero value means "read, default block size".
type OpenOptions struct {
	Mode        string // "rb", "wb", "ab", "r+b", ... (megfile mode strings)
	BlockSize   int64  // S3 multipart block size override; 0 = backend default
	Concurrency int    // parallel stream count override; 0 = backend default

	// HandleKind selects an alternate S3 open strategy (spec.md §4.9):
	// "" (default) dispatches to the prefetch reader / buffered writer /
	// seek writer by mode, same as before these fields existed. "cached"
	// selects the local-temp-file mirror (C12); "memory" selects the
	// in-memory buffer (C13). Backends other than backend/s3 ignore this.
	HandleKind string

	// CachePath overrides the local temp file path for HandleKind=="cached";
	// empty auto-generates one via os.CreateTemp.
	CachePath string
	// RemoveCacheWhenOpen unlinks the temp file as soon as the descriptor is
	// open (Unix semantics let the already-open fd keep working) — spec.md
	// §4.9's "remove_cache_when_open".
	RemoveCacheWhenOpen bool
	// Atomic defers a "memory" handle's upload to a single PutObject at
	// Close instead of streaming through the buffered writer as written.
	Atomic bool

	// ShareKey selects the C9 shared-cache reader (spec.md §4.6): multiple
	// Open calls with the same (bucket, key, ShareKey) share one block
	// cache instead of each paying for its own prefetch window. Only
	// backend/s3 honors this; other backends ignore it.
	ShareKey string
}

// Backend is the full operation set spec.md §4.2 requires. Any method a
// backend genuinely cannot support (chmod on S3, walk on stdio, ...) should
// return an *mscerr.Error with Kind == mscerr.Unsupported rather than being
// omitted — omission is reserved for the optional extras in OptionalOps.
type Backend interface {
	Identity() Identity

	Exists(p mpath.Path) (bool, error)
	IsDir(p mpath.Path) (bool, error)
	IsFile(p mpath.Path) (bool, error)
	IsSymlink(p mpath.Path) (bool, error)
	Stat(p mpath.Path, followSymlinks bool) (mpath.StatResult, error)

	Listdir(p mpath.Path) ([]string, error)
	Scandir(p mpath.Path) (DirEntryIter, error)
	Scan(p mpath.Path, missingOK, followLinks bool) (PathIter, error)
	ScanStat(p mpath.Path, missingOK, followLinks bool) (DirEntryIter, error)
	Walk(p mpath.Path, followLinks bool) (WalkIter, error)

	// Glob matches p's remainder as a shell-wildcard/brace/"**" pattern
	// (spec.md §4.2 C2, §4.13) and returns every matching Path, in the
	// same brace-expansion order the pattern names.
	Glob(p mpath.Path, recursive, missingOK bool) (PathIter, error)

	Mkdir(p mpath.Path, mode uint32, parents, existOK bool) error
	Remove(p mpath.Path, missingOK bool) error
	Unlink(p mpath.Path, missingOK bool) error
	Rmdir(p mpath.Path, missingOK bool) error

	Rename(src, dst mpath.Path, overwrite bool) error
	Copy(src, dst mpath.Path, callback func(n int64), followLinks, overwrite bool) error
	Sync(src, dst mpath.Path, followLinks, force, overwrite bool) error

	Open(p mpath.Path, opts OpenOptions) (interface{}, error) // ReadSeekCloser | WriteCloser
	Load(p mpath.Path) (io.ReadCloser, error)
	Save(p mpath.Path, r io.Reader) error

	Md5(p mpath.Path, recalc, followLinks bool) (string, error)
	Getmtime(p mpath.Path) (float64, error)
	Getsize(p mpath.Path) (int64, error)
}

// OptionalOps groups the operations spec.md §4.2 marks as backend-optional.
// A backend not implementing this interface is assumed to support none of
// them; Dispatch callers should type-assert for it and return an
// mscerr.Unsupported Error when absent.
type OptionalOps interface {
	Symlink(target, link mpath.Path) error
	Readlink(p mpath.Path) (mpath.Path, error)
	Chmod(p mpath.Path, mode uint32, followSymlinks bool) error
	Absolute(p mpath.Path) (mpath.Path, error)
	Resolve(p mpath.Path, strict bool) (mpath.Path, error)
	Home() (mpath.Path, error)
	Cwd() (mpath.Path, error)
	Expanduser(p mpath.Path) (mpath.Path, error)
	Utime(p mpath.Path, atime, mtime float64) error
}

// --- Injected collaborators (spec.md §6) ---

// HTTPResponse is the minimal response shape the core needs back from an
// HTTPClient call.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    io.ReadCloser
}

// HTTPClient is the seam HDFS (WebHDFS) and WebDAV backends are built
// against; production code wires *http.Client through an adapter, tests
// wire a fake.
type HTTPClient interface {
	Do(method, url string, headers map[string]string, body io.Reader, timeout time.Duration) (*HTTPResponse, error)
}

// S3API is the subset of the AWS SDK's S3 client surface the core depends
// on (spec.md §6); aws-sdk-go-v2's *s3.Client satisfies a superset of this
// through a thin adapter (see backend/s3).
type S3API interface {
	HeadObject(bucket, key string) (S3ObjectMeta, error)
	GetObject(bucket, key string, rangeHeader string) (io.ReadCloser, S3ObjectMeta, error)
	PutObject(bucket, key string, body io.Reader, contentMD5Hex string) (etag string, err error)
	CreateMultipartUpload(bucket, key string, contentMD5Hex string) (uploadID string, err error)
	UploadPart(bucket, key, uploadID string, partNumber int32, body io.Reader) (etag string, err error)
	CompleteMultipartUpload(bucket, key, uploadID string, parts []CompletedPart) (etag string, err error)
	AbortMultipartUpload(bucket, key, uploadID string) error
	DeleteObject(bucket, key string) error
	ListObjectsV2(bucket, prefix, delimiter, continuationToken string, maxKeys int32) (S3ListPage, error)
	CopyObject(srcBucket, srcKey, dstBucket, dstKey string) (etag string, err error)
}

// S3ObjectMeta is the subset of HEAD/GET metadata the core consumes.
type S3ObjectMeta struct {
	Size          int64
	ETag          string
	LastModified  time.Time
	ContentMD5Hex string // custom "Content-MD5-Hex" metadata header, spec.md §6
}

// CompletedPart identifies one part of a finished multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// S3ListPage is one page of a ListObjectsV2 response.
type S3ListPage struct {
	CommonPrefixes        []string
	Contents              []S3ObjectSummary
	NextContinuationToken string
	IsTruncated           bool
}

// S3ObjectSummary is one object entry within an S3ListPage.
type S3ObjectSummary struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// SFTPSession is the minimal set of SFTP wire operations the sftp backend
// needs from an injected SSH client, independent of which SSH/SFTP library
// backs it in production.
type SFTPSession interface {
	Stat(path string) (mpath.StatResult, error)
	Lstat(path string) (mpath.StatResult, error)
	ReadDir(path string) ([]mpath.FileEntry, error)
	Open(path string, flags int) (io.ReadWriteCloser, error)
	Mkdir(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldPath, newPath string) error
	Symlink(target, link string) error
	Readlink(path string) (string, error)
	Chmod(path string, mode uint32) error
}

// SSHClient is the injected collaborator backing the SFTP backend
// (spec.md §6 "An SSH client exposing session, exec-command, SFTP ops").
type SSHClient interface {
	SFTP() (SFTPSession, error)
	// Exec runs cmd on the remote host and returns combined stdout; used
	// for the server-side "cp"/"cat" fast paths (spec.md §4.10).
	Exec(cmd string) ([]byte, error)
	Close() error
}

// --- scheme registry (spec.md §4.1) ---

var registry = map[string]Backend{}

// Register installs backend under scheme. Registration is idempotent
// within one process (registering the identical *instance* twice is a
// no-op); registering a different backend under an already-taken scheme is
// an error unless override is true (spec.md §3 invariants).
func Register(scheme string, b Backend, override bool) error {
	if existing, ok := registry[scheme]; ok {
		if existing == b {
			return nil
		}
		if !override {
			return mscerr.New(mscerr.ProtocolAlreadyExists, "register", scheme, nil)
		}
	}
	registry[scheme] = b
	return nil
}

// Lookup resolves scheme to its registered Backend.
func Lookup(scheme string) (Backend, error) {
	if err := mpath.MustBackendScheme(scheme); err != nil {
		return nil, err
	}
	b, ok := registry[scheme]
	if !ok {
		return nil, mscerr.New(mscerr.ProtocolNotFound, "lookup", scheme, nil)
	}
	return b, nil
}

// Resolve parses raw into a Path and resolves the Backend registered for
// its scheme (post alias-rewriting), the single entry point spec.md §4.1
// describes as "produce a Path bound to a backend".
func Resolve(raw string) (mpath.Path, Backend, error) {
	p := mpath.New(raw)
	b, err := Lookup(p.Protocol())
	if err != nil {
		return mpath.Path{}, nil, err
	}
	return p, b, nil
}

// Unregister removes scheme from the registry. Primarily for tests.
func Unregister(scheme string) {
	delete(registry, scheme)
}
