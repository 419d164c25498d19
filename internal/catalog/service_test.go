package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lgulliver/autobackup/internal/common"
	"github.com/lgulliver/autobackup/pkg/types"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{})
	require.NoError(t, err)

	database := &common.Database{DB: db}
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	return NewService(database)
}

func record(objectID, date, client string, createdAt time.Time) *types.BackupRecord {
	return &types.BackupRecord{
		ObjectID:   objectID,
		ParentID:   "UP_" + date,
		Name:       objectID + ".JPG",
		Date:       date,
		Path:       "/backups/" + date + "/" + objectID + ".JPG",
		Size:       10,
		ClientAddr: client,
		CreatedAt:  createdAt,
	}
}

func TestService_RecordAndGet(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	stored := &types.StoredObject{
		PendingObject: types.PendingObject{
			ObjectMetadata: types.ObjectMetadata{
				Name:        "A.JPG",
				Date:        "2024-05-01",
				Class:       types.DefaultObjectClass,
				MimeType:    "image",
				MimeSubtype: "jpeg",
				Size:        12,
			},
			ObjectID:   "UP_2024-05-01_abcdefghij",
			ParentID:   "UP_2024-05-01",
			ClientAddr: "192.168.1.50",
		},
		Path:        "/backups/2024-05-01/A.JPG",
		Written:     10,
		SHA256:      "916f0027a575074ce72a331777c3478d6513f786a591bd892da1a577bf2335f9",
		ContentType: "image/jpeg",
	}

	rec := types.NewBackupRecord(stored, "SEC_HHP_Camera/1.0")
	require.NoError(t, service.Record(ctx, rec))
	assert.NotEmpty(t, rec.ID.String())

	got, err := service.Get(ctx, "UP_2024-05-01_abcdefghij")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "A.JPG", got.Name)
	assert.Equal(t, "image/jpeg", got.DeclaredType)
	assert.Equal(t, "image/jpeg", got.DetectedType)
	assert.Equal(t, int64(12), got.DeclaredSize)
	assert.Equal(t, int64(10), got.Size)
	assert.Equal(t, "SEC_HHP_Camera/1.0", got.ClientUserAgent)
}

func TestService_GetNotFound(t *testing.T) {
	service := setupTestService(t)

	_, err := service.Get(context.Background(), "UP_2024-05-01_missingxxx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RecordDuplicateObjectID(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, service.Record(ctx, record("UP_2024-05-01_aaaaaaaaaa", "2024-05-01", "", now)))
	assert.Error(t, service.Record(ctx, record("UP_2024-05-01_aaaaaaaaaa", "2024-05-01", "", now)))
}

func TestService_List(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []*types.BackupRecord{
		record("UP_2024-05-01_aaaaaaaaaa", "2024-05-01", "192.168.1.50", base),
		record("UP_2024-05-01_bbbbbbbbbb", "2024-05-01", "192.168.1.51", base.Add(time.Minute)),
		record("UP_2024-05-02_cccccccccc", "2024-05-02", "192.168.1.50", base.Add(2*time.Minute)),
	}
	for _, r := range records {
		require.NoError(t, service.Record(ctx, r))
	}

	tests := []struct {
		name      string
		filter    types.BackupFilter
		wantIDs   []string
		wantTotal int64
	}{
		{
			name:      "all newest first",
			filter:    types.BackupFilter{},
			wantIDs:   []string{"UP_2024-05-02_cccccccccc", "UP_2024-05-01_bbbbbbbbbb", "UP_2024-05-01_aaaaaaaaaa"},
			wantTotal: 3,
		},
		{
			name:      "by date",
			filter:    types.BackupFilter{Date: "2024-05-01"},
			wantIDs:   []string{"UP_2024-05-01_bbbbbbbbbb", "UP_2024-05-01_aaaaaaaaaa"},
			wantTotal: 2,
		},
		{
			name:      "by client",
			filter:    types.BackupFilter{ClientAddr: "192.168.1.50"},
			wantIDs:   []string{"UP_2024-05-02_cccccccccc", "UP_2024-05-01_aaaaaaaaaa"},
			wantTotal: 2,
		},
		{
			name:      "paginated",
			filter:    types.BackupFilter{Limit: 1, Offset: 1},
			wantIDs:   []string{"UP_2024-05-01_bbbbbbbbbb"},
			wantTotal: 3,
		},
		{
			name:      "no match",
			filter:    types.BackupFilter{Date: "1999-01-01"},
			wantIDs:   []string{},
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := service.List(ctx, &tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)

			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ObjectID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}
