package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileStorage keeps uploaded dataset files on local disk.
type FileStorage struct {
	dir string

	mu   sync.Mutex
	last int64
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

// Dir is the storage root.
func (fs *FileStorage) Dir() string {
	return fs.dir
}

// Save writes r under a fresh name of the form {unix-nanos}{ext}, keeping the
// lower-cased extension of original. It returns the stored name and size.
func (fs *FileStorage) Save(original string, r io.Reader) (string, int64, error) {
	name := fs.nextName(strings.ToLower(filepath.Ext(original)))
	path := filepath.Join(fs.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload: %w", err)
	}
	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	return name, size, nil
}

// nextName is strictly increasing so two uploads in the same nanosecond
// never collide.
func (fs *FileStorage) nextName(ext string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ts := time.Now().UnixNano()
	if ts <= fs.last {
		ts = fs.last + 1
	}
	fs.last = ts
	return strconv.FormatInt(ts, 10) + ext
}

// Path resolves a stored name inside the storage root.
func (fs *FileStorage) Path(name string) (string, error) {
	clean := filepath.Base(name)
	if clean != name || clean == "." || clean == ".." || clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid stored name %q", name)
	}
	return filepath.Join(fs.dir, clean), nil
}

// Open opens a stored file for reading.
func (fs *FileStorage) Open(name string) (*os.File, error) {
	path, err := fs.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (fs *FileStorage) Remove(name string) error {
	path, err := fs.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
