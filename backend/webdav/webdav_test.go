package webdav

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// fakeNode is one entry in the fake WebDAV server's tree.
type fakeNode struct {
	isDir bool
	data  []byte
	mtime time.Time
}

// fakeServer is an in-process stand-in for a WebDAV server, the same
// injected-collaborator pattern backend/hdfs's fakeNameNode uses for
// backend.HTTPClient (spec.md §6).
type fakeServer struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode // path -> node, "/" always present
}

func newFakeServer() *fakeServer {
	return &fakeServer{nodes: map[string]*fakeNode{
		"/": {isDir: true, mtime: time.Unix(1700000000, 0)},
	}}
}

func (s *fakeServer) children(dir string) []string {
	var out []string
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p := range s.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" || strings.Contains(strings.TrimSuffix(rest, "/"), "/") {
			continue
		}
		out = append(out, p)
	}
	return out
}

func propXML(path string, n *fakeNode) string {
	rt := ""
	size := ""
	href := path
	if n.isDir {
		rt = "<D:collection/>"
		if !strings.HasSuffix(href, "/") {
			href += "/"
		}
	} else {
		size = fmt.Sprintf("<D:getcontentlength>%d</D:getcontentlength>", len(n.data))
	}
	return fmt.Sprintf(`<D:response>
  <D:href>%s</D:href>
  <D:propstat>
    <D:prop>
      <D:resourcetype>%s</D:resourcetype>
      %s
      <D:getlastmodified>%s</D:getlastmodified>
      <D:getetag>"etag-%s"</D:getetag>
    </D:prop>
    <D:status>HTTP/1.1 200 OK</D:status>
  </D:propstat>
</D:response>`, href, rt, size, n.mtime.UTC().Format(time.RFC1123), strings.TrimPrefix(path, "/"))
}

func (s *fakeServer) propfind(path, depth string) (int, []byte) {
	n, ok := s.nodes[path]
	if !ok {
		return 404, []byte("not found")
	}
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><D:multistatus xmlns:D="DAV:">`)
	sb.WriteString(propXML(path, n))
	if depth == "1" && n.isDir {
		for _, c := range s.children(path) {
			sb.WriteString(propXML(c, s.nodes[c]))
		}
	}
	sb.WriteString(`</D:multistatus>`)
	return 207, []byte(sb.String())
}

func (s *fakeServer) mkcol(path string) (int, []byte) {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	parent := "/"
	if idx > 0 {
		parent = trimmed[:idx]
	}
	if pn, ok := s.nodes[parent]; !ok || !pn.isDir {
		return 409, nil
	}
	if _, ok := s.nodes[path]; ok {
		return 405, nil
	}
	s.nodes[path] = &fakeNode{isDir: true, mtime: time.Unix(1700000000, 0)}
	return 201, nil
}

func (s *fakeServer) del(path string) (int, []byte) {
	if _, ok := s.nodes[path]; !ok {
		return 404, nil
	}
	for p := range s.nodes {
		if p == path || strings.HasPrefix(p, strings.TrimSuffix(path, "/")+"/") {
			delete(s.nodes, p)
		}
	}
	return 204, nil
}

func (s *fakeServer) get(path string) (int, []byte) {
	n, ok := s.nodes[path]
	if !ok || n.isDir {
		return 404, nil
	}
	return 200, n.data
}

func (s *fakeServer) put(path string, data []byte) (int, []byte) {
	s.nodes[path] = &fakeNode{data: data, mtime: time.Unix(1700000001, 0)}
	return 201, nil
}

func (s *fakeServer) head(path string) (int, map[string]string) {
	n, ok := s.nodes[path]
	if !ok {
		return 404, nil
	}
	h := map[string]string{"Accept-Ranges": "bytes", "Content-Length": strconv.Itoa(len(n.data))}
	return 200, h
}

func (s *fakeServer) copyOrMove(srcPath, destHref string, overwrite, move bool) (int, []byte) {
	n, ok := s.nodes[srcPath]
	if !ok {
		return 404, nil
	}
	u, err := url.Parse(destHref)
	if err != nil {
		return 400, nil
	}
	dst, _ := url.PathUnescape(u.Path)
	if _, exists := s.nodes[dst]; exists && !overwrite {
		return 412, nil
	}
	cp := *n
	s.nodes[dst] = &cp
	if move {
		delete(s.nodes, srcPath)
	}
	return 201, nil
}

type fakeClient struct{ s *fakeServer }

func (c *fakeClient) Do(method, rawURL string, headers map[string]string, body io.Reader, timeout time.Duration) (*backend.HTTPResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	path, _ := url.PathUnescape(u.Path)
	if path == "" {
		path = "/"
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	switch method {
	case "PROPFIND":
		status, data := c.s.propfind(path, headers["Depth"])
		return respond(status, data, nil), nil
	case "MKCOL":
		status, data := c.s.mkcol(path)
		return respond(status, data, nil), nil
	case "DELETE":
		status, data := c.s.del(path)
		return respond(status, data, nil), nil
	case "GET":
		status, data := c.s.get(path)
		if rng := headers["Range"]; rng != "" && status == 200 {
			data = applyRange(data, rng)
		}
		return respond(status, data, nil), nil
	case "PUT":
		data, _ := io.ReadAll(body)
		status, respBody := c.s.put(path, data)
		return respond(status, respBody, nil), nil
	case "HEAD":
		status, hdrs := c.s.head(path)
		return respond(status, nil, hdrs), nil
	case "MOVE", "COPY":
		overwrite := headers["Overwrite"] == "T"
		status, data := c.s.copyOrMove(path, headers["Destination"], overwrite, method == "MOVE")
		return respond(status, data, nil), nil
	default:
		return respond(405, nil, nil), nil
	}
}

func applyRange(data []byte, spec string) []byte {
	spec = strings.TrimPrefix(spec, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	start, _ := strconv.Atoi(parts[0])
	end := len(data) - 1
	if len(parts) > 1 && parts[1] != "" {
		end, _ = strconv.Atoi(parts[1])
	}
	if start > len(data) {
		start = len(data)
	}
	if end >= len(data) {
		end = len(data) - 1
	}
	if end < start {
		return nil
	}
	return data[start : end+1]
}

func respond(status int, body []byte, headers map[string]string) *backend.HTTPResponse {
	return &backend.HTTPResponse{Status: status, Headers: headers, Body: io.NopCloser(bytes.NewReader(body))}
}

func newTestBackend(s *fakeServer) *Backend {
	return New(&fakeClient{s: s}, Config{Username: "alice", Password: "secret"}, nil)
}

func testPath(remainder string) mpath.Path {
	return mpath.FromParts("webdav", "example.org"+remainder)
}

func TestWebdavMkdirAndStat(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)

	if err := b.Mkdir(testPath("/a"), 0o755, false, false); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	isDir, err := b.IsDir(testPath("/a"))
	if err != nil || !isDir {
		t.Fatalf("isdir = %v, %v, want true, nil", isDir, err)
	}
}

func TestWebdavMkdirParents(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)

	if err := b.Mkdir(testPath("/a/b/c"), 0o755, true, true); err != nil {
		t.Fatalf("mkdir parents: %v", err)
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if ok, _ := b.IsDir(testPath(p)); !ok {
			t.Fatalf("expected %s to be a directory", p)
		}
	}
}

func TestWebdavSaveLoad(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)

	if err := b.Save(testPath("/file.txt"), strings.NewReader("hello world")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := b.Load(testPath("/file.txt"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
}

func TestWebdavListdir(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)
	if err := b.Mkdir(testPath("/dir"), 0o755, false, false); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := b.Save(testPath("/dir/a.txt"), strings.NewReader("a")); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := b.Save(testPath("/dir/b.txt"), strings.NewReader("bb")); err != nil {
		t.Fatalf("save b: %v", err)
	}
	names, err := b.Listdir(testPath("/dir"))
	if err != nil {
		t.Fatalf("listdir: %v", err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("got %v", names)
	}
}

func TestWebdavRemove(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)
	if err := b.Save(testPath("/x.txt"), strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.Remove(testPath("/x.txt"), false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	exists, err := b.Exists(testPath("/x.txt"))
	if err != nil || exists {
		t.Fatalf("exists = %v, %v, want false, nil", exists, err)
	}
	if err := b.Remove(testPath("/x.txt"), true); err != nil {
		t.Fatalf("remove missingOK: %v", err)
	}
	if err := b.Remove(testPath("/x.txt"), false); !mscerr.Is(err, mscerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestWebdavRenameSameHost(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)
	if err := b.Save(testPath("/src.txt"), strings.NewReader("payload")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.Rename(testPath("/src.txt"), testPath("/dst.txt"), false); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if exists, _ := b.Exists(testPath("/src.txt")); exists {
		t.Fatalf("src should be gone after rename")
	}
	rc, err := b.Load(testPath("/dst.txt"))
	if err != nil {
		t.Fatalf("load dst: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("got %q", data)
	}
}

func TestWebdavCopyCrossHostStreams(t *testing.T) {
	srcServer := newFakeServer()
	dstServer := newFakeServer()
	b := newTestBackend(srcServer)

	srcP := mpath.FromParts("webdav", "host-a/f.txt")
	dstP := mpath.FromParts("webdav", "host-b/f.txt")

	if err := b.Save(srcP, strings.NewReader("cross host data")); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Route host-b requests to dstServer via a small dispatching client.
	multi := &multiHostClient{byHost: map[string]*fakeServer{
		"host-a": srcServer,
		"host-b": dstServer,
	}}
	b2 := New(multi, Config{}, nil)

	if err := b2.Copy(srcP, dstP, nil, false, false); err != nil {
		t.Fatalf("cross-host copy: %v", err)
	}
	rc, err := b2.Load(dstP)
	if err != nil {
		t.Fatalf("load dst: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "cross host data" {
		t.Fatalf("got %q", data)
	}
}

// multiHostClient dispatches by host to distinguish cross-host fallback
// from the same-host server-side fast path in tests.
type multiHostClient struct {
	byHost map[string]*fakeServer
}

func (m *multiHostClient) Do(method, rawURL string, headers map[string]string, body io.Reader, timeout time.Duration) (*backend.HTTPResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	s, ok := m.byHost[u.Host]
	if !ok {
		return nil, fmt.Errorf("unknown host %s", u.Host)
	}
	fc := &fakeClient{s: s}
	return fc.Do(method, rawURL, headers, body, timeout)
}

func TestWebdavRangeRead(t *testing.T) {
	s := newFakeServer()
	b := newTestBackend(s)
	if err := b.Save(testPath("/big.bin"), strings.NewReader(strings.Repeat("0123456789", 100))); err != nil {
		t.Fatalf("save: %v", err)
	}
	h, err := b.Open(testPath("/big.bin"), backend.OpenOptions{Mode: "rb"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rc := h.(backend.ReadSeekCloser)
	defer rc.Close()
	buf := make([]byte, 1000)
	n, err := io.ReadFull(rc, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 1000 {
		t.Fatalf("read %d bytes, want 1000", n)
	}
	if _, err := rc.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	one := make([]byte, 1)
	if _, err := rc.Read(one); err != nil {
		t.Fatalf("read after seek: %v", err)
	}
	if one[0] != '5' {
		t.Fatalf("got %q, want '5'", one)
	}
}

func TestWebdavTokenRefreshOn401(t *testing.T) {
	s := newFakeServer()
	calls := 0
	runCmd := func(cmd string) (string, error) {
		calls++
		return "tok-" + strconv.Itoa(calls), nil
	}
	b := New(&unauthorizedOnceClient{fakeClient: &fakeClient{s: s}}, Config{TokenCommand: "get-token"}, runCmd)
	if err := b.Mkdir(testPath("/ok"), 0o755, false, false); err != nil {
		t.Fatalf("mkdir after 401 retry: %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected token command to run at least once")
	}
}

// unauthorizedOnceClient rejects the first request with 401 then delegates,
// exercising the RefreshAuthThenRetry path (spec.md §4.12, §4.17).
type unauthorizedOnceClient struct {
	*fakeClient
	failed bool
}

func (c *unauthorizedOnceClient) Do(method, rawURL string, headers map[string]string, body io.Reader, timeout time.Duration) (*backend.HTTPResponse, error) {
	if !c.failed {
		c.failed = true
		return respond(401, nil, nil), nil
	}
	return c.fakeClient.Do(method, rawURL, headers, body, timeout)
}
