package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReceiptStore persists rendered receipt PDFs on disk under a base
// directory. Receipts are immutable once written; re-rendering the same
// payment overwrites with identical content.
type ReceiptStore struct {
	baseDir string
}

// NewReceiptStore ensures the base directory exists and returns a handle.
func NewReceiptStore(baseDir string) (*ReceiptStore, error) {
	if baseDir == "" {
		baseDir = "./receipts"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts directory: %w", err)
	}
	return &ReceiptStore{baseDir: baseDir}, nil
}

// Save writes the given bytes to the provided relative path under the
// base dir and returns the relative path back.
func (s *ReceiptStore) Save(name string, data []byte) (string, error) {
	path := s.resolve(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare receipt directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write receipt file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored receipt.
func (s *ReceiptStore) Open(name string) (*os.File, error) {
	file, err := os.Open(s.resolve(name))
	if err != nil {
		return nil, fmt.Errorf("open receipt file: %w", err)
	}
	return file, nil
}

// Path exposes the underlying absolute path.
func (s *ReceiptStore) Path(name string) string {
	return s.resolve(name)
}

func (s *ReceiptStore) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.baseDir, name)
}
