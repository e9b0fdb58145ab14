package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harleven/casedocs/pkg/logger"
)

// LocalStorage keeps blobs on the local filesystem, keyed by relative
// path under a base directory.
type LocalStorage struct {
	baseDir string
	logger  logger.Logger
}

func NewLocalStorage(baseDir string, log logger.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, logger: log}, nil
}

// resolve maps a key to a path inside baseDir, rejecting traversal.
func (l *LocalStorage) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return filepath.Join(l.baseDir, cleaned), nil
}

// Store implements Storage.Store
func (l *LocalStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		l.logger.Error("Failed to write blob",
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}

	return key, nil
}

// Get implements Storage.Get
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		l.logger.Error("Failed to open blob",
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// Delete implements Storage.Delete
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		l.logger.Error("Failed to delete blob",
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func GetClient(baseDir string, logger logger.Logger) (*LocalStorage, error) {
	return NewLocalStorage(baseDir, logger)
}
