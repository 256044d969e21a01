package pipeline

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name, size, err := fs.Save("Heart Data.CSV", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^\d+\.csv$`).MatchString(name) || size != 8 {
		t.Fatalf("unexpected stored name %q size %d", name, size)
	}
	other, _, err := fs.Save("heart.csv", strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == name {
		t.Fatal("stored names collide")
	}

	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := fs.Remove(name); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still present: %v", err)
	}
	if err := fs.Remove(name); err != nil {
		t.Fatalf("removing a missing file should succeed, got %v", err)
	}
	if _, err := fs.Open("../secret"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestDatasetCache(t *testing.T) {
	cache, err := NewDatasetCache(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache.Add("a", &Table{Header: []string{"a"}})
	cache.Add("b", &Table{Header: []string{"b"}})
	cache.Get("a")
	cache.Add("c", &Table{Header: []string{"c"}})

	if _, ok := cache.Get("b"); ok {
		t.Fatal("expected least recently used entry to be evicted")
	}
	if table, ok := cache.Get("a"); !ok || table.Header[0] != "a" {
		t.Fatal("expected recently used entry to stay")
	}
	cache.Remove("a")
	if cache.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", cache.Len())
	}

	disabled, _ := NewDatasetCache(0)
	disabled.Add("a", &Table{})
	if _, ok := disabled.Get("a"); ok {
		t.Fatal("disabled cache must not store")
	}
}
