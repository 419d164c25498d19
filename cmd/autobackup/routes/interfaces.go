package routes

import (
	"context"
	"io"

	"github.com/lgulliver/autobackup/internal/clients"
	"github.com/lgulliver/autobackup/pkg/config"
	"github.com/lgulliver/autobackup/pkg/types"
)

// BackupRegistry defines the contract for the pending object registry
type BackupRegistry interface {
	CreateObject(meta types.ObjectMetadata, clientAddr string) (*types.PendingObject, error)
	WriteObject(ctx context.Context, objectID string, content io.Reader) (*types.StoredObject, error)
	Pending() []types.PendingObject
}

// CatalogService defines the contract for the completed backup catalog
type CatalogService interface {
	Record(ctx context.Context, record *types.BackupRecord) error
	List(ctx context.Context, filter *types.BackupFilter) ([]*types.BackupRecord, int64, error)
}

// Services groups what the route handlers depend on. Catalog may be nil when
// no database is configured.
type Services struct {
	Config   *config.Config
	Registry BackupRegistry
	Catalog  CatalogService
	Tracker  clients.Tracker
}
