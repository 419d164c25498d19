package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidPath is returned for paths that would resolve outside the storage root
var ErrInvalidPath = errors.New("invalid storage path")

// BlobStorage defines where received backups are written
type BlobStorage interface {
	// Store saves content at the given slash-separated relative path,
	// replacing anything already there
	Store(ctx context.Context, path string, content io.Reader, contentType string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// Location returns a human readable absolute location for path
	Location(path string) string
}

// contextReader fails reads once ctx is done so long uploads can be aborted
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
