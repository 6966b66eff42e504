package storage

import (
	"context"
	"fmt"

	"github.com/docshare/drive/internal/config"
)

// NewBlobStoreFromConfig builds the backend selected by BLOB_BACKEND.
func NewBlobStoreFromConfig(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.Blob.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "local":
		if cfg.Local.Root == "" {
			return nil, fmt.Errorf("local blob backend requires LOCAL_BLOB_ROOT to be set")
		}
		return NewLocalStore(cfg.Local.Root)
	case "minio", "":
		client, err := NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("minio initialization failed: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed ensuring minio bucket: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Blob.Backend)
	}
}
