package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/harleven/casedocs/config"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/storage/local"
	"github.com/harleven/casedocs/pkg/storage/minio"
	"github.com/harleven/casedocs/pkg/storage/s3"
)

// StorageType selects the blob backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinio StorageType = "minio"
	StorageTypeS3    StorageType = "s3"
)

// Storage stores document blobs under content-addressed keys.
type Storage interface {
	// Store writes the blob under key and returns the stored key
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the blob for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob
	Delete(ctx context.Context, key string) error
}

// NewStorage is the factory for blob backends
func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeLocal:
		return local.GetClient(config.GetStorageConfig().LocalDir, logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	case StorageTypeS3:
		return s3.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
