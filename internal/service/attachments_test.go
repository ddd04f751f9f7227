package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_SaveAndURL(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "media"), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	path, err := store.Save([]byte("payload"), "report.pdf")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("content mismatch: %q", data)
	}
	if !strings.HasSuffix(path, "_report.pdf") {
		t.Fatalf("uuid prefix missing: %q", path)
	}

	url := store.URL(path)
	if !strings.HasPrefix(url, "/media/") || !strings.HasSuffix(url, "_report.pdf") {
		t.Fatalf("url=%q", url)
	}
}

func TestFileStore_StripsClientDirectories(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	path, err := store.Save([]byte("x"), "../../etc/passwd")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rel, err := filepath.Rel(store.Dir(), path)
	if err != nil || strings.Contains(rel, "..") {
		t.Fatalf("file escaped media dir: %q", path)
	}
	if filepath.Base(path) == "passwd" {
		t.Fatalf("name must carry uuid prefix")
	}
}

func TestFileStore_UniqueNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	p1, err := store.Save([]byte("a"), "same.txt")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	p2, err := store.Save([]byte("b"), "same.txt")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("colliding paths for identical client names")
	}
}
