// Package localfs spools uploaded files on local disk until they have been
// streamed to the analysis backend.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid storage key")

type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/spool"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// Path returns the on-disk location for key, or "" when the key is unsafe.
func (s *Storage) Path(key string) string {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return ""
	}
	return filepath.Join(s.basePath, key)
}

// Save writes data under key and returns the number of bytes stored. A
// partially written file is removed.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	path := s.Path(key)
	if path == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, data)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write file: %w", err)
	}
	return n, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path := s.Path(key)
	if path == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete is a no-op for keys that are already gone.
func (s *Storage) Delete(_ context.Context, key string) error {
	path := s.Path(key)
	if path == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
