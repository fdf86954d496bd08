package localfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NVIDIA/mscfile/backend"
	mpath "github.com/NVIDIA/mscfile/path"
)

func tempPath(t *testing.T, rel string) mpath.Path {
	t.Helper()
	dir := t.TempDir()
	return mpath.New(filepath.Join(dir, rel))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := New()
	p := tempPath(t, "a/b/c.txt")

	if err := b.Save(p, strings.NewReader("hello")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rc, err := b.Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer rc.Close()

	buf := make([]byte, 5)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("Load() content = %q, want %q", buf[:n], "hello")
	}
}

func TestStatDirectoryAggregatesDescendants(t *testing.T) {
	b := New()
	dir := t.TempDir()
	root := mpath.New(dir)

	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "y.txt"), []byte("123"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := b.Stat(root, false)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Size != 8 {
		t.Errorf("Stat().Size = %d, want 8 (sum of descendant file sizes)", st.Size)
	}
	if !st.IsDir {
		t.Errorf("Stat().IsDir = false, want true")
	}
}

func TestExistsIsFileIsDir(t *testing.T) {
	b := New()
	dir := t.TempDir()
	filePath := mpath.New(filepath.Join(dir, "f.txt"))
	if err := b.Save(filePath, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}

	root := mpath.New(dir)
	missing := mpath.New(filepath.Join(dir, "nope"))

	if ok, _ := b.Exists(filePath); !ok {
		t.Error("Exists(file) = false, want true")
	}
	if ok, _ := b.Exists(missing); ok {
		t.Error("Exists(missing) = true, want false")
	}
	if ok, _ := b.IsFile(filePath); !ok {
		t.Error("IsFile(file) = false, want true")
	}
	if ok, _ := b.IsDir(root); !ok {
		t.Error("IsDir(dir) = false, want true")
	}
}

func TestMd5CachesOnUnchangedSizeAndMTime(t *testing.T) {
	b := New()
	p := tempPath(t, "f.txt")
	if err := b.Save(p, strings.NewReader("content")); err != nil {
		t.Fatal(err)
	}

	h1, err := b.Md5(p, false, true)
	if err != nil {
		t.Fatalf("Md5() error = %v", err)
	}
	h2, err := b.Md5(p, false, true)
	if err != nil {
		t.Fatalf("Md5() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("Md5() not stable across calls: %q vs %q", h1, h2)
	}
}

func TestMkdirRemoveRoundTrip(t *testing.T) {
	b := New()
	dir := t.TempDir()
	nested := mpath.New(filepath.Join(dir, "a", "b", "c"))

	if err := b.Mkdir(nested, 0o755, true, false); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if ok, _ := b.IsDir(nested); !ok {
		t.Error("Mkdir(parents=true) did not create nested directory")
	}

	if err := b.Remove(mpath.New(filepath.Join(dir, "a")), false); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ok, _ := b.Exists(mpath.New(filepath.Join(dir, "a"))); ok {
		t.Error("Remove() did not delete directory tree")
	}
}

func TestRenameRejectsSameFile(t *testing.T) {
	b := New()
	p := tempPath(t, "f.txt")
	if err := b.Save(p, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := b.Rename(p, p, true); err == nil {
		t.Fatal("Rename(p, p) should fail with SameFile")
	}
}

func TestWalkYieldsSortedLevels(t *testing.T) {
	b := New()
	dir := t.TempDir()
	for _, rel := range []string{"b/x.txt", "a/y.txt"} {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	it, err := b.Walk(mpath.New(dir), false)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	defer it.Close()

	first, ok := it.Next()
	if !ok {
		t.Fatal("Walk() yielded no levels")
	}
	if len(first.Dirs) != 2 || first.Dirs[0] != "a" || first.Dirs[1] != "b" {
		t.Errorf("Walk() root level dirs = %v, want sorted [a b]", first.Dirs)
	}
}

var _ backend.Backend = (*Backend)(nil)
