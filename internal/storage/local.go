package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk. Temp files live in a
// configurable directory; Publish copies artifacts into a published/
// subdirectory and returns its path as the output reference. Suitable for
// development and tests; production wraps it with S3Storage.
type LocalStorage struct {
	tempDir    string
	publishDir string
}

// NewLocalStorage creates a new LocalStorage instance. If tempDir is
// empty, a directory under os.TempDir() is used. Both the temp and
// publish directories are created if they don't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "blanklogo")
	}
	publishDir := filepath.Join(tempDir, "published")

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("storage: create temp directory: %w", err)
	}
	if err := os.MkdirAll(publishDir, 0750); err != nil {
		return nil, fmt.Errorf("storage: create publish directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir, publishDir: publishDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// SaveTemp saves data to a temporary file and returns the file path.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("storage: close temp file: %w", err)
	}
	return fileName, nil
}

// LoadTemp reads a temporary file and returns a reader.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("storage: open temp file: %w", err)
	}
	return f, nil
}

// CleanupTemp removes the specified temporary files, returning the first
// error encountered while continuing through the list.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("storage: context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.RemoveAll(p); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage: remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Publish copies the artifact into the publish directory and returns its
// path as the output reference.
func (s *LocalStorage) Publish(ctx context.Context, key, path string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	src, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return "", fmt.Errorf("storage: open artifact: %w", err)
	}
	defer func() { _ = src.Close() }()

	dest := filepath.Join(s.publishDir, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("storage: create artifact directory: %w", err)
	}

	dst, err := os.Create(dest) // #nosec G304 - dest is derived from key
	if err != nil {
		return "", fmt.Errorf("storage: create artifact: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("storage: write artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("storage: close artifact: %w", err)
	}
	return dest, nil
}
