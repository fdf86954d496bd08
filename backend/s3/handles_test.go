package s3

import (
	"io"
	"os"
	"testing"
)

// --- cachedHandle (C12) ---

func TestCachedHandleReadRoundTrip(t *testing.T) {
	api := newMemAPI()
	api.objects[objKey("b", "k")] = []byte("hello cache")
	h, err := newCachedHandle(api, "b", "k", "rb", "", false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello cache" {
		t.Fatalf("got %q", data)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCachedHandleWriteUploadsOnClose(t *testing.T) {
	api := newMemAPI()
	h, err := newCachedHandle(api, "b", "k", "wb", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("written")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "written" {
		t.Fatalf("object = %q, want %q", got, "written")
	}
}

func TestCachedHandleRemoveWhenOpenUnlinksImmediately(t *testing.T) {
	api := newMemAPI()
	api.objects[objKey("b", "k")] = []byte("data")
	h, err := newCachedHandle(api, "b", "k", "rb", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.path); !os.IsNotExist(err) {
		t.Fatalf("expected cache file to be unlinked immediately, stat err = %v", err)
	}
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Fatalf("got %q", data)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCachedHandleSeekAndTruncate(t *testing.T) {
	api := newMemAPI()
	h, err := newCachedHandle(api, "b", "k", "w+b", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if err := h.Truncate(5); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "01234" {
		t.Fatalf("got %q", data)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "01234" {
		t.Fatalf("object = %q, want %q", got, "01234")
	}
}

// --- memoryHandle (C13) ---

func TestMemoryHandleReadRoundTrip(t *testing.T) {
	api := newMemAPI()
	api.objects[objKey("b", "k")] = []byte("hello memory")
	h, err := newMemoryHandle(api, "b", "k", "rb", false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello memory" {
		t.Fatalf("got %q", data)
	}
}

func TestMemoryHandleWriteUploadsOnClose(t *testing.T) {
	api := newMemAPI()
	h, err := newMemoryHandle(api, "b", "k", "wb", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("buffered")); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.objects[objKey("b", "k")]; ok {
		t.Fatal("object should not exist before Close")
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "buffered" {
		t.Fatalf("object = %q, want %q", got, "buffered")
	}
}

func TestMemoryHandleAppendStartsAtEnd(t *testing.T) {
	api := newMemAPI()
	api.objects[objKey("b", "k")] = []byte("base-")
	h, err := newMemoryHandle(api, "b", "k", "ab", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("tail")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "base-tail" {
		t.Fatalf("object = %q, want %q", got, "base-tail")
	}
}

func TestMemoryHandleAbortDiscardsWrite(t *testing.T) {
	api := newMemAPI()
	h, err := newMemoryHandle(api, "b", "k", "wb", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("oops")); err != nil {
		t.Fatal(err)
	}
	if err := h.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.objects[objKey("b", "k")]; ok {
		t.Fatal("object should not exist after abort")
	}
}

func TestMemoryHandleSeekOverwrite(t *testing.T) {
	api := newMemAPI()
	h, err := newMemoryHandle(api, "b", "k", "w+b", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write([]byte("ABCDE")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(api.objects[objKey("b", "k")]); got != "ABCDE56789" {
		t.Fatalf("object = %q, want %q", got, "ABCDE56789")
	}
}
