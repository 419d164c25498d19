// Package catalog keeps a database record of every completed backup
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lgulliver/autobackup/internal/common"
	"github.com/lgulliver/autobackup/pkg/types"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("backup record not found")

// Service handles catalog operations
type Service struct {
	DB *common.Database
}

// NewService creates a new catalog service
func NewService(db *common.Database) *Service {
	return &Service{DB: db}
}

// Record stores the catalog entry for a completed upload
func (s *Service) Record(ctx context.Context, record *types.BackupRecord) error {
	if err := s.DB.WithContext(ctx).Create(record).Error; err != nil {
		log.Error().Err(err).Str("object_id", record.ObjectID).Msg("failed to record backup")
		return fmt.Errorf("failed to record backup: %w", err)
	}

	log.Debug().
		Str("id", record.ID.String()).
		Str("object_id", record.ObjectID).
		Str("path", record.Path).
		Msg("backup recorded")
	return nil
}

// Get returns the record for an object id
func (s *Service) Get(ctx context.Context, objectID string) (*types.BackupRecord, error) {
	var record types.BackupRecord
	if err := s.DB.WithContext(ctx).Where("object_id = ?", objectID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectID)
		}
		return nil, fmt.Errorf("failed to get backup record: %w", err)
	}
	return &record, nil
}

// List returns records matching filter, newest first, with the total count
// before pagination
func (s *Service) List(ctx context.Context, filter *types.BackupFilter) ([]*types.BackupRecord, int64, error) {
	filtered := func() *gorm.DB {
		query := s.DB.WithContext(ctx).Model(&types.BackupRecord{})
		if filter.Date != "" {
			query = query.Where("date = ?", filter.Date)
		}
		if filter.ClientAddr != "" {
			query = query.Where("client_addr = ?", filter.ClientAddr)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count backups: %w", err)
	}

	query := filtered()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []*types.BackupRecord
	if err := query.Order("created_at DESC").Order("object_id").Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list backups: %w", err)
	}

	return records, total, nil
}
