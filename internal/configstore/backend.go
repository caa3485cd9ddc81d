package configstore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Backend.Read when no document has been stored yet.
var ErrNotFound = errors.New("document not found")

// Backend stores the serialized document.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Location() string
}

type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Location() string {
	return b.path
}

func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Write replaces the file atomically: readers see the old or the new
// document, never a partial one.
func (b *FileBackend) Write(data []byte) error {
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpPath := b.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, b.path)
}
