package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileStorage keeps values in a flat JSON object on disk. Every write
// replaces the file atomically.
type FileStorage struct {
	mu   sync.RWMutex
	path string
}

// NewFileStorage creates a file backed storage at path. The file is created
// on first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := f.read()
	if err != nil {
		return "", err
	}
	result := gjson.GetBytes(data, escapePath(key))
	if !result.Exists() || result.Type == gjson.Null {
		return "", ErrNotFound
	}
	if result.Type != gjson.String {
		return "", fmt.Errorf("value for key %q is not a string", key)
	}
	return result.String(), nil
}

func (f *FileStorage) Set(_ context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("empty storage key")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(data, escapePath(key), value)
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return f.write(updated)
}

func (f *FileStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	if !gjson.GetBytes(data, escapePath(key)).Exists() {
		return nil
	}
	updated, err := sjson.DeleteBytes(data, escapePath(key))
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return f.write(updated)
}

// read returns the file contents, or an empty object if the file does not exist
func (f *FileStorage) read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("storage file %s is not a JSON object", f.path)
	}
	return data, nil
}

func (f *FileStorage) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// escapePath turns a plain key into a gjson/sjson path matching that key only
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
