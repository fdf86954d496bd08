package stdio

import (
	"bytes"
	"strings"
	"testing"

	mpath "github.com/NVIDIA/mscfile/path"
)

func TestSaveWritesToStdout(t *testing.T) {
	var out bytes.Buffer
	b := &Backend{Stdin: strings.NewReader(""), Stdout: &out, Stderr: &bytes.Buffer{}}

	if err := b.Save(mpath.New("stdio://1"), strings.NewReader("hello")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("Stdout content = %q, want %q", out.String(), "hello")
	}
}

func TestLoadReadsFromStdin(t *testing.T) {
	b := &Backend{Stdin: strings.NewReader("input"), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	rc, err := b.Load(mpath.New("stdio://-"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer rc.Close()

	buf := make([]byte, 5)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "input" {
		t.Errorf("Load() content = %q, want %q", buf[:n], "input")
	}
}

func TestUnknownStreamNotFound(t *testing.T) {
	b := New()
	if _, err := b.streamOf("9"); err == nil {
		t.Fatal("expected an error for an unrecognized stdio stream")
	}
}

func TestUnsupportedOperationsReturnError(t *testing.T) {
	b := New()
	p := mpath.New("stdio://1")
	if _, err := b.Listdir(p); err == nil {
		t.Error("Listdir() on stdio should be unsupported")
	}
	if err := b.Mkdir(p, 0o755, false, false); err == nil {
		t.Error("Mkdir() on stdio should be unsupported")
	}
}
