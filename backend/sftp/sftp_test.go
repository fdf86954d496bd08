package sftp

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// fakeHost is an in-process fake of one SSH server, keyed by host name.
// Stands in for a real sshd + sftp-server pair, the same injected-
// collaborator pattern backend/s3's memAPI uses for S3API.
type fakeHost struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{files: make(map[string][]byte), dirs: map[string]bool{"/": true}}
}

type fakeSession struct{ h *fakeHost }

func (s *fakeSession) Stat(path string) (mpath.StatResult, error) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if s.h.dirs[path] {
		return mpath.StatResult{IsDir: true}, nil
	}
	if data, ok := s.h.files[path]; ok {
		return mpath.StatResult{Size: int64(len(data))}, nil
	}
	return mpath.StatResult{}, mscerr.New(mscerr.NotFound, "stat", path, nil)
}

func (s *fakeSession) Lstat(path string) (mpath.StatResult, error) { return s.Stat(path) }

func (s *fakeSession) ReadDir(path string) ([]mpath.FileEntry, error) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if !s.h.dirs[path] {
		return nil, mscerr.New(mscerr.NotFound, "listdir", path, nil)
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	if path == "/" {
		prefix = "/"
	}
	var out []mpath.FileEntry
	seen := map[string]bool{}
	for p, data := range s.h.files {
		if strings.HasPrefix(p, prefix) {
			rest := strings.TrimPrefix(p, prefix)
			if rest != "" && !strings.Contains(rest, "/") && !seen[rest] {
				seen[rest] = true
				out = append(out, mpath.FileEntry{Name: rest, Path: p, Stat: mpath.StatResult{Size: int64(len(data))}})
			}
		}
	}
	for p := range s.h.dirs {
		if p == path || p == "/" {
			continue
		}
		if strings.HasPrefix(p, prefix) {
			rest := strings.TrimPrefix(p, prefix)
			if rest != "" && !strings.Contains(rest, "/") && !seen[rest] {
				seen[rest] = true
				out = append(out, mpath.FileEntry{Name: rest, Path: p, Stat: mpath.StatResult{IsDir: true}})
			}
		}
	}
	return out, nil
}

type fakeFile struct {
	buf    *bytes.Buffer
	h      *fakeHost
	path   string
	write  bool
}

func (f *fakeFile) Read(p []byte) (int, error)  { return f.buf.Read(p) }
func (f *fakeFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *fakeFile) Close() error {
	if f.write {
		f.h.mu.Lock()
		f.h.files[f.path] = f.buf.Bytes()
		f.h.mu.Unlock()
	}
	return nil
}

func (s *fakeSession) Open(path string, flags int) (io.ReadWriteCloser, error) {
	write := flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 || flags&os.O_CREATE != 0
	s.h.mu.Lock()
	data := append([]byte(nil), s.h.files[path]...)
	s.h.mu.Unlock()
	return &fakeFile{buf: bytes.NewBuffer(data), h: s.h, path: path, write: write}, nil
}

func (s *fakeSession) Mkdir(path string) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	s.h.dirs[path] = true
	return nil
}

func (s *fakeSession) Remove(path string) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if _, ok := s.h.files[path]; !ok {
		return mscerr.New(mscerr.NotFound, "remove", path, nil)
	}
	delete(s.h.files, path)
	return nil
}

func (s *fakeSession) RemoveDirectory(path string) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if !s.h.dirs[path] {
		return mscerr.New(mscerr.NotFound, "rmdir", path, nil)
	}
	delete(s.h.dirs, path)
	return nil
}

func (s *fakeSession) Rename(oldPath, newPath string) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if data, ok := s.h.files[oldPath]; ok {
		s.h.files[newPath] = data
		delete(s.h.files, oldPath)
		return nil
	}
	return mscerr.New(mscerr.NotFound, "rename", oldPath, nil)
}

func (s *fakeSession) Symlink(target, link string) error { return nil }
func (s *fakeSession) Readlink(path string) (string, error) { return "", nil }
func (s *fakeSession) Chmod(path string, mode uint32) error { return nil }

var _ backend.SFTPSession = (*fakeSession)(nil)

type fakeClient struct {
	h       *fakeHost
	execLog []string
}

func (c *fakeClient) SFTP() (backend.SFTPSession, error) { return &fakeSession{h: c.h}, nil }

func (c *fakeClient) Exec(cmd string) ([]byte, error) {
	c.execLog = append(c.execLog, cmd)
	if strings.HasPrefix(cmd, "cp ") {
		parts := strings.Fields(cmd)
		src, dst := strings.Trim(parts[len(parts)-2], "'"), strings.Trim(parts[len(parts)-1], "'")
		c.h.mu.Lock()
		data, ok := c.h.files[src]
		if ok {
			c.h.files[dst] = data
		}
		c.h.mu.Unlock()
		if !ok {
			return nil, mscerr.New(mscerr.NotFound, "exec", src, nil)
		}
		return nil, nil
	}
	return nil, nil
}

func (c *fakeClient) Close() error { return nil }

var _ backend.SSHClient = (*fakeClient)(nil)

func newTestBackend() (*Backend, *fakeHost) {
	h := newFakeHost()
	dial := func(host string, port int, user, password string) (backend.SSHClient, error) {
		return &fakeClient{h: h}, nil
	}
	return New(dial, Config{}), h
}

func TestSFTPSaveLoad(t *testing.T) {
	b, _ := newTestBackend()
	p := mpath.New("sftp://alice@host/a/b.txt")
	if err := b.Save(p, strings.NewReader("hello")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rc, err := b.Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestSFTPAbsoluteVsRelative(t *testing.T) {
	abs, err := parseRemote(mpath.New("sftp://alice@host//tmp/x"), Config{})
	if err != nil {
		t.Fatalf("parseRemote: %v", err)
	}
	if !abs.absolute || abs.path != "/tmp/x" {
		t.Fatalf("want absolute /tmp/x, got %+v", abs)
	}
	rel, err := parseRemote(mpath.New("sftp://alice@host/tmp/x"), Config{})
	if err != nil {
		t.Fatalf("parseRemote: %v", err)
	}
	if rel.absolute || rel.path != "tmp/x" {
		t.Fatalf("want relative tmp/x, got %+v", rel)
	}
}

func TestSFTPMkdirListdir(t *testing.T) {
	b, _ := newTestBackend()
	dir := mpath.New("sftp://alice@host//d")
	if err := b.Mkdir(dir, 0755, true, true); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := b.Save(dir.Join("one.txt"), strings.NewReader("1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	names, err := b.Listdir(dir)
	if err != nil {
		t.Fatalf("Listdir: %v", err)
	}
	if len(names) != 1 || names[0] != "one.txt" {
		t.Fatalf("got %v", names)
	}
}

func TestSFTPSameHostRenameUsesNativeOp(t *testing.T) {
	b, _ := newTestBackend()
	src := mpath.New("sftp://alice@host//src.txt")
	dst := mpath.New("sftp://alice@host//dst.txt")
	if err := b.Save(src, strings.NewReader("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Rename(src, dst, true); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := b.Exists(src); ok {
		t.Fatalf("src should be gone")
	}
	if ok, _ := b.Exists(dst); !ok {
		t.Fatalf("dst should exist")
	}
}

func TestSFTPSameHostCopyUsesServerSideCp(t *testing.T) {
	b, h := newTestBackend()
	src := mpath.New("sftp://alice@host//src.txt")
	dst := mpath.New("sftp://alice@host//dst.txt")
	if err := b.Save(src, strings.NewReader("payload")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Copy(src, dst, nil, false, true); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	h.mu.Lock()
	data := string(h.files["/dst.txt"])
	h.mu.Unlock()
	if data != "payload" {
		t.Fatalf("got %q", data)
	}
}

func TestSFTPRenameSamePathRejected(t *testing.T) {
	b, _ := newTestBackend()
	p := mpath.New("sftp://alice@host//same.txt")
	b.Save(p, strings.NewReader("x"))
	err := b.Rename(p, p, true)
	if !mscerr.Is(err, mscerr.SameFile) {
		t.Fatalf("want SameFile, got %v", err)
	}
}
