package blobstore

import (
	"context"
	"fmt"
	"log/slog"
)

type Config struct {
	Type      string      `yaml:"type" validate:"oneof=filesystem minio"`
	Directory string      `yaml:"directory"`
	Minio     MinioConfig `yaml:"minio"`
}

// NewStore creates the configured store. Minio buckets are created on demand.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "filesystem", "":
		store, err := NewFilesystemStore(cfg.Directory)
		if err != nil {
			return nil, err
		}
		slog.Info("blob store ready", "type", "filesystem", "directory", cfg.Directory)
		return store, nil
	case "minio":
		store, err := NewMinioStore(cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare minio bucket %s: %w", cfg.Minio.Bucket, err)
		}
		slog.Info("blob store ready", "type", "minio", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob store type: %s", cfg.Type)
	}
}
