package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultObjectClass is the DLNA class the camera uses for still images
const DefaultObjectClass = "object.item.imageItem"

// ObjectMetadata is what a camera announces in CreateObject before uploading a file
type ObjectMetadata struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Class       string `json:"class"`
	MimeType    string `json:"mime_type"`
	MimeSubtype string `json:"mime_subtype"`
	Size        int64  `json:"size"` // declared by the client, advisory only
}

// ContentType joins the MIME type and subtype
func (m ObjectMetadata) ContentType() string {
	if m.MimeSubtype == "" {
		return m.MimeType
	}
	return m.MimeType + "/" + m.MimeSubtype
}

// PendingObject is an announced upload that has not been received yet
type PendingObject struct {
	ObjectMetadata
	ObjectID   string    `json:"object_id"`
	ParentID   string    `json:"parent_id"`
	ClientAddr string    `json:"client_addr,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoredObject describes a pending object after its bytes reached storage
type StoredObject struct {
	PendingObject
	Path        string        `json:"path"`
	Written     int64         `json:"written"`
	SHA256      string        `json:"sha256"`
	ContentType string        `json:"content_type"` // detected from the payload
	Duration    time.Duration `json:"duration"`
}

// BackupRecord is the catalog entry for a completed upload
type BackupRecord struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ObjectID        string    `json:"object_id" gorm:"uniqueIndex;not null"`
	ParentID        string    `json:"parent_id" gorm:"index"`
	Name            string    `json:"name" gorm:"not null"`
	Date            string    `json:"date" gorm:"index"`
	Class           string    `json:"class"`
	Path            string    `json:"path" gorm:"not null"`
	DeclaredType    string    `json:"declared_type"`
	DetectedType    string    `json:"detected_type"`
	DeclaredSize    int64     `json:"declared_size"`
	Size            int64     `json:"size"`
	SHA256          string    `json:"sha256"`
	ClientAddr      string    `json:"client_addr" gorm:"index"`
	ClientUserAgent string    `json:"client_user_agent"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the record ID
func (r *BackupRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NewBackupRecord builds the catalog entry for a stored object
func NewBackupRecord(obj *StoredObject, userAgent string) *BackupRecord {
	return &BackupRecord{
		ObjectID:        obj.ObjectID,
		ParentID:        obj.ParentID,
		Name:            obj.Name,
		Date:            obj.Date,
		Class:           obj.Class,
		Path:            obj.Path,
		DeclaredType:    obj.ObjectMetadata.ContentType(),
		DetectedType:    obj.ContentType,
		DeclaredSize:    obj.Size,
		Size:            obj.Written,
		SHA256:          obj.SHA256,
		ClientAddr:      obj.ClientAddr,
		ClientUserAgent: userAgent,
	}
}

// BackupFilter narrows catalog listings
type BackupFilter struct {
	Date       string
	ClientAddr string
	Limit      int
	Offset     int
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
