package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/yifanzh/structpdf/pkg/logger"
	"github.com/yifanzh/structpdf/pkg/storage/minio"
	"github.com/yifanzh/structpdf/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage holds uploaded documents and pipeline results. Keys are opaque;
// the service layer decides the naming scheme.
type Storage interface {
	Store(ctx context.Context, reader io.Reader, filename string) (string, error)
	Get(ctx context.Context, fileID string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
