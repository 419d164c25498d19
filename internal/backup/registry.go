// Package backup holds the objects a camera has announced but not yet
// uploaded, and writes their content to backup storage once it arrives.
package backup

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/metrics"
	"github.com/lgulliver/autobackup/internal/storage"
	"github.com/lgulliver/autobackup/pkg/types"
	"github.com/lgulliver/autobackup/pkg/utils"
)

// ErrObjectNotFound is returned for uploads against an id that is unknown,
// already written or expired
var ErrObjectNotFound = errors.New("backup object not found")

const (
	parentPrefix = "UP_"
	idSuffixLen  = 10
	sniffLen     = 3072
	maxIDTries   = 16
)

var dateSeparators = strings.NewReplacer("/", "-", "\\", "-")

// Options controls where objects are written and how long they wait
type Options struct {
	CreateDateSubdir bool
	// PendingTTL is how long an announced object waits for its upload.
	// Zero keeps objects until they are written.
	PendingTTL time.Duration
	// RetireTTL is how long a written or expired id is remembered so it is
	// not issued again. Zero remembers ids for the life of the registry.
	RetireTTL time.Duration
	// ReapInterval is how often Run looks for expired objects
	ReapInterval time.Duration
}

// Registry tracks objects announced by CreateObject until their content
// arrives. Once written or expired an id is retired: later uploads against
// it fail with ErrObjectNotFound and it is not issued again for RetireTTL.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*types.PendingObject
	retired map[string]time.Time
	store   storage.BlobStorage
	opts    Options
	now     func() time.Time
}

// NewRegistry creates a registry writing into store
func NewRegistry(store storage.BlobStorage, opts Options) *Registry {
	return &Registry{
		pending: make(map[string]*types.PendingObject),
		retired: make(map[string]time.Time),
		store:   store,
		opts:    opts,
		now:     time.Now,
	}
}

// CreateObject registers a new pending object and returns it. The parent id
// is "UP_" plus the object date; the object id appends ten random
// alphanumerics.
func (r *Registry) CreateObject(meta types.ObjectMetadata, clientAddr string) (*types.PendingObject, error) {
	parentID := parentPrefix + meta.Date

	r.mu.Lock()
	defer r.mu.Unlock()

	var objectID string
	for i := 0; ; i++ {
		if i == maxIDTries {
			return nil, fmt.Errorf("failed to allocate a unique object id for %s", parentID)
		}
		suffix, err := utils.RandomAlphanumeric(idSuffixLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate object id: %w", err)
		}
		objectID = parentID + "_" + suffix
		if !r.taken(objectID) {
			break
		}
	}

	obj := &types.PendingObject{
		ObjectMetadata: meta,
		ObjectID:       objectID,
		ParentID:       parentID,
		ClientAddr:     clientAddr,
		CreatedAt:      r.now(),
	}
	r.pending[objectID] = obj
	metrics.SetPending(len(r.pending))

	log.Info().
		Str("object_id", objectID).
		Str("name", meta.Name).
		Str("date", meta.Date).
		Str("content_type", meta.ContentType()).
		Int64("size", meta.Size).
		Str("client", clientAddr).
		Msg("created backup object")

	copied := *obj
	return &copied, nil
}

// taken must be called with mu held
func (r *Registry) taken(objectID string) bool {
	if _, ok := r.pending[objectID]; ok {
		return true
	}
	_, ok := r.retired[objectID]
	return ok
}

// GetObjectDetails returns a copy of the pending object with the given id
func (r *Registry) GetObjectDetails(objectID string) (types.PendingObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.pending[objectID]
	if !ok {
		return types.PendingObject{}, false
	}
	return *obj, true
}

// Pending lists the objects still waiting for upload, oldest first
func (r *Registry) Pending() []types.PendingObject {
	r.mu.Lock()
	objs := make([]types.PendingObject, 0, len(r.pending))
	for _, obj := range r.pending {
		objs = append(objs, *obj)
	}
	r.mu.Unlock()

	sort.Slice(objs, func(i, j int) bool {
		if objs[i].CreatedAt.Equal(objs[j].CreatedAt) {
			return objs[i].ObjectID < objs[j].ObjectID
		}
		return objs[i].CreatedAt.Before(objs[j].CreatedAt)
	})
	return objs
}

// claim removes objectID from the pending set and retires it, so a second
// upload of the same id cannot start while the first is writing
func (r *Registry) claim(objectID string) (*types.PendingObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.pending[objectID]
	if !ok {
		return nil, false
	}
	delete(r.pending, objectID)
	r.retired[objectID] = r.now()
	metrics.SetPending(len(r.pending))
	return obj, true
}

// release puts a claimed object back after a failed write
func (r *Registry) release(obj *types.PendingObject) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.retired, obj.ObjectID)
	r.pending[obj.ObjectID] = obj
	metrics.SetPending(len(r.pending))
}

// ObjectPath is the storage path for obj: "<date>/<name>" when date
// subdirectories are enabled, "<name>" otherwise. Both segments are reduced
// to safe file names; an unusable name falls back to the object id.
func (r *Registry) ObjectPath(obj *types.PendingObject) string {
	name, err := utils.SanitizeFileName(obj.Name)
	if err != nil {
		// the id always ends in random alphanumerics
		name, _ = utils.SanitizeFileName(obj.ObjectID)
	}
	if !r.opts.CreateDateSubdir {
		return name
	}
	date, err := utils.SanitizeFileName(dateSeparators.Replace(obj.Date))
	if err != nil {
		return name
	}
	return date + "/" + name
}

// WriteObject streams content into storage for a pending object. The object
// is removed on success. When storage fails it stays pending so the client
// can retry.
func (r *Registry) WriteObject(ctx context.Context, objectID string, content io.Reader) (*types.StoredObject, error) {
	startTime := time.Now()

	obj, ok := r.claim(objectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}

	path := r.ObjectPath(obj)
	if exists, err := r.store.Exists(ctx, path); err == nil && exists {
		log.Warn().Str("object_id", objectID).Str("path", path).Msg("overwriting existing backup file")
	}

	buffered := bufio.NewReaderSize(content, sniffLen)
	head, err := buffered.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		r.release(obj)
		return nil, fmt.Errorf("failed to read object %s: %w", objectID, err)
	}
	detected := mimetype.Detect(head).String()

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(buffered, hasher)}

	if err := r.store.Store(ctx, path, counter, detected); err != nil {
		r.release(obj)
		log.Error().
			Err(err).
			Str("object_id", objectID).
			Str("path", path).
			Int64("bytes_read", counter.n).
			Msg("failed to write backup object")
		return nil, fmt.Errorf("failed to store object %s: %w", objectID, err)
	}

	stored := &types.StoredObject{
		PendingObject: *obj,
		Path:          r.store.Location(path),
		Written:       counter.n,
		SHA256:        hex.EncodeToString(hasher.Sum(nil)),
		ContentType:   detected,
		Duration:      time.Since(startTime),
	}

	event := log.Info()
	if obj.Size != counter.n {
		event = log.Warn().Int64("declared_size", obj.Size)
	}
	event.
		Str("object_id", objectID).
		Str("path", stored.Path).
		Int64("bytes_written", stored.Written).
		Str("content_type", detected).
		Dur("duration", stored.Duration).
		Msg("backup object written")

	return stored, nil
}

// ReapExpired drops pending objects older than PendingTTL and returns how
// many were removed. Their ids are retired. Retired ids older than RetireTTL
// are forgotten.
func (r *Registry) ReapExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.RetireTTL > 0 {
		r.pruneRetired(now.Add(-r.opts.RetireTTL))
	}
	if r.opts.PendingTTL <= 0 {
		return 0
	}

	cutoff := now.Add(-r.opts.PendingTTL)
	reaped := 0
	for id, obj := range r.pending {
		if obj.CreatedAt.Before(cutoff) {
			delete(r.pending, id)
			r.retired[id] = now
			reaped++

			log.Info().
				Str("object_id", id).
				Str("name", obj.Name).
				Time("created_at", obj.CreatedAt).
				Msg("expired backup object without upload")
		}
	}

	if reaped > 0 {
		metrics.SetPending(len(r.pending))
		metrics.RecordExpired(reaped)
	}
	return reaped
}

// pruneRetired must be called with mu held
func (r *Registry) pruneRetired(cutoff time.Time) {
	pruned := 0
	for id, at := range r.retired {
		if at.Before(cutoff) {
			delete(r.retired, id)
			pruned++
		}
	}
	if pruned > 0 {
		log.Debug().Int("count", pruned).Msg("forgot retired object ids")
	}
}

// Run reaps expired objects every ReapInterval until ctx is cancelled
func (r *Registry) Run(ctx context.Context) {
	if r.opts.ReapInterval <= 0 || (r.opts.PendingTTL <= 0 && r.opts.RetireTTL <= 0) {
		return
	}

	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapExpired()
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
