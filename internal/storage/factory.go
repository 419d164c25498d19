package storage

import (
	"context"
	"fmt"

	"github.com/lgulliver/autobackup/pkg/config"
)

// StorageFactory creates storage instances based on configuration
type StorageFactory struct {
	config *config.StorageConfig
	root   string
}

// NewStorageFactory creates a new storage factory. root is the local backup
// directory used by the "local" type.
func NewStorageFactory(config *config.StorageConfig, root string) *StorageFactory {
	return &StorageFactory{config: config, root: root}
}

// CreateStorage creates a storage instance based on the configured type
func (sf *StorageFactory) CreateStorage(ctx context.Context) (BlobStorage, error) {
	switch sf.config.Type {
	case "local", "":
		return NewLocalStorage(sf.root)
	case "s3":
		return NewS3Storage(ctx, sf.config)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
