package s3

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/mscfile/backend"
)

// memAPI is an in-process fake of backend.S3API, standing in for
// sdkClient in these tests the way the injected-collaborator pattern
// (spec.md §6) intends: production code wires the real SDK, tests wire a
// fake with the same interface.
type memAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]map[int32][]byte // uploadID -> partNumber -> bytes
	uploadOf map[string]string           // uploadID -> "bucket/key"
	nextID   int
}

func newMemAPI() *memAPI {
	return &memAPI{
		objects:  make(map[string][]byte),
		uploads:  make(map[string]map[int32][]byte),
		uploadOf: make(map[string]string),
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (m *memAPI) HeadObject(bucket, key string) (backend.S3ObjectMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objKey(bucket, key)]
	if !ok {
		return backend.S3ObjectMeta{}, errNotFound
	}
	return backend.S3ObjectMeta{Size: int64(len(data)), ETag: "\"etag\"", LastModified: time.Unix(0, 0)}, nil
}

func (m *memAPI) GetObject(bucket, key, rangeHeader string) (io.ReadCloser, backend.S3ObjectMeta, error) {
	m.mu.Lock()
	data, ok := m.objects[objKey(bucket, key)]
	m.mu.Unlock()
	if !ok {
		return nil, backend.S3ObjectMeta{}, errNotFound
	}
	start, end := int64(0), int64(len(data))-1
	if rangeHeader != "" {
		s, e := parseRange(rangeHeader)
		start, end = s, e
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
	}
	if start > end || start >= int64(len(data)) {
		return io.NopCloser(bytes.NewReader(nil)), backend.S3ObjectMeta{Size: 0}, nil
	}
	slice := data[start : end+1]
	return io.NopCloser(bytes.NewReader(slice)), backend.S3ObjectMeta{Size: int64(len(slice))}, nil
}

func parseRange(h string) (int64, int64) {
	h = strings.TrimPrefix(h, "bytes=")
	parts := strings.SplitN(h, "-", 2)
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	return start, end
}

func (m *memAPI) PutObject(bucket, key string, body io.Reader, contentMD5Hex string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[objKey(bucket, key)] = data
	m.mu.Unlock()
	return "\"etag\"", nil
}

func (m *memAPI) CreateMultipartUpload(bucket, key, contentMD5Hex string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "upload-" + strconv.Itoa(m.nextID)
	m.uploads[id] = make(map[int32][]byte)
	m.uploadOf[id] = objKey(bucket, key)
	return id, nil
}

func (m *memAPI) UploadPart(bucket, key, uploadID string, partNumber int32, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.uploads[uploadID]
	if !ok {
		return "", errNotFound // upload already completed or aborted
	}
	parts[partNumber] = data
	return "\"part-" + strconv.Itoa(int(partNumber)) + "\"", nil
}

func (m *memAPI) CompleteMultipartUpload(bucket, key, uploadID string, parts []backend.CompletedPart) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNum := m.uploads[uploadID]
	numbers := make([]int32, 0, len(parts))
	for _, p := range parts {
		numbers = append(numbers, p.PartNumber)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(byNum[n])
	}
	m.objects[objKey(bucket, key)] = buf.Bytes()
	delete(m.uploads, uploadID)
	delete(m.uploadOf, uploadID)
	return "\"etag\"", nil
}

func (m *memAPI) AbortMultipartUpload(bucket, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	delete(m.uploadOf, uploadID)
	return nil
}

func (m *memAPI) DeleteObject(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objKey(bucket, key))
	return nil
}

func (m *memAPI) ListObjectsV2(bucket, prefix, delimiter, continuationToken string, maxKeys int32) (backend.S3ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := backend.S3ListPage{}
	seenPrefixes := map[string]bool{}
	for k, v := range m.objects {
		if !strings.HasPrefix(k, bucket+"/") {
			continue
		}
		key := strings.TrimPrefix(k, bucket+"/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					page.CommonPrefixes = append(page.CommonPrefixes, cp)
				}
				continue
			}
		}
		page.Contents = append(page.Contents, backend.S3ObjectSummary{Key: key, Size: int64(len(v))})
	}
	sort.Strings(page.CommonPrefixes)
	sort.Slice(page.Contents, func(i, j int) bool { return page.Contents[i].Key < page.Contents[j].Key })
	return page, nil
}

func (m *memAPI) CopyObject(srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objKey(srcBucket, srcKey)]
	if !ok {
		return "", errNotFound
	}
	m.objects[objKey(dstBucket, dstKey)] = append([]byte(nil), data...)
	return "\"etag\"", nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

var _ backend.S3API = (*memAPI)(nil)

// --- bufferedWriter (C10) ---

func smallConfig() Config {
	return Config{
		BlockSize: 16, Forward: 1, Backward: 1, MaxBufferBlocks: 4, FetchConcurrency: 2,
		PartSize: 8, MaxPartSize: 64, PutThreshold: 8, UploadConcurrency: 2, MaxPendingParts: 4,
	}
}

func TestBufferedWriterSinglePutBelowThreshold(t *testing.T) {
	api := newMemAPI()
	w := newBufferedWriter(api, "b", "k", smallConfig())
	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "hi" {
		t.Fatalf("object = %q, want %q", got, "hi")
	}
}

func TestBufferedWriterMultipartRoundTrip(t *testing.T) {
	api := newMemAPI()
	w := newBufferedWriter(api, "b", "k", smallConfig())
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if !w.multipart {
		t.Fatal("expected writer to have promoted to multipart mode")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := api.objects[objKey("b", "k")]; !bytes.Equal(got, data) {
		t.Fatalf("object = %q, want %q", got, data)
	}
}

func TestBufferedWriterAbortCancelsMultipart(t *testing.T) {
	api := newMemAPI()
	w := newBufferedWriter(api, "b", "k", smallConfig())
	if _, err := w.Write(bytes.Repeat([]byte("x"), 40)); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.objects[objKey("b", "k")]; ok {
		t.Fatal("object should not exist after abort")
	}
	if len(api.uploads) != 0 {
		t.Fatal("upload should have been aborted")
	}
}

func TestBufferedWriterPartSizeDoublesEvery100Parts(t *testing.T) {
	api := newMemAPI()
	cfg := smallConfig()
	w := newBufferedWriter(api, "b", "k", cfg)
	w.partsFlushed = 99
	w.mu.Lock()
	w.currentPartSize = cfg.PartSize
	w.multipart = true
	w.uploadID = "fake"
	w.mu.Unlock()
	api.uploads["fake"] = make(map[int32][]byte)
	if _, err := w.Write(bytes.Repeat([]byte("y"), int(cfg.PartSize))); err != nil {
		t.Fatal(err)
	}
	w.mu.Lock()
	size := w.currentPartSize
	w.mu.Unlock()
	if size != cfg.PartSize*2 {
		t.Fatalf("currentPartSize = %d, want %d", size, cfg.PartSize*2)
	}
}

// --- seekWriter (C11) ---

func TestSeekWriterPatchesHeadBeforeCommit(t *testing.T) {
	api := newMemAPI()
	cfg := smallConfig()
	w := newSeekWriter(api, "b", "k", cfg)
	if _, err := w.Write([]byte("HEADER12")); err != nil { // exactly headBlockSize (=BlockSize=16)? no, 8 bytes < 16
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("body-bytes-go-here")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("PATCHED!")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got := string(api.objects[objKey("b", "k")])
	want := "PATCHED!body-bytes-go-here"
	if got != want {
		t.Fatalf("object = %q, want %q", got, want)
	}
}

func TestSeekWriterRejectsSeekOutsideHeadOrTail(t *testing.T) {
	api := newMemAPI()
	w := newSeekWriter(api, "b", "k", smallConfig())
	if _, err := w.Write(bytes.Repeat([]byte("z"), 40)); err != nil {
		t.Fatal(err)
	}
	// Somewhere in the middle of already-flushed, immutable parts.
	if _, err := w.Seek(20, io.SeekStart); err == nil {
		t.Fatal("expected Unsupported seeking into an already-flushed region")
	}
}

func TestSeekWriterAppendOnlyRoundTrip(t *testing.T) {
	api := newMemAPI()
	w := newSeekWriter(api, "b", "k", smallConfig())
	data := []byte("the quick brown fox jumps over the lazy dog 0123456789")
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := api.objects[objKey("b", "k")]; !bytes.Equal(got, data) {
		t.Fatalf("object = %q, want %q", got, data)
	}
}
