package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if p, err := ExpandHome("~"); err != nil || p != home {
		t.Fatalf("expected %q, got %q (err=%v)", home, p, err)
	}
	exp, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if exp != filepath.Join(home, "models") {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestResolveMakesAbsolute(t *testing.T) {
	p, err := Resolve("relative/dir")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !filepath.IsAbs(p) {
		t.Fatalf("expected absolute path, got %q", p)
	}
}

func TestRequireDirAndFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "m.gguf")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := RequireDir(dir); err != nil {
		t.Fatalf("dir: %v", err)
	}
	if _, err := RequireDir(f); err == nil {
		t.Fatalf("file accepted as directory")
	}
	if got, err := RequireFile(f); err != nil || got != f {
		t.Fatalf("file: %q %v", got, err)
	}
	if _, err := RequireFile(dir); err == nil {
		t.Fatalf("directory accepted as file")
	}
	if _, err := RequireFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("missing file accepted")
	}
	if !PathExists(f) || PathExists(filepath.Join(dir, "missing")) {
		t.Fatalf("PathExists mismatch")
	}
}
