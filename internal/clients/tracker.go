// Package clients remembers which user agent each camera presented, so SOAP
// actions can be logged against the device that issued them.
package clients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lgulliver/autobackup/internal/common"
	"github.com/lgulliver/autobackup/pkg/config"
)

// ErrUnknownClient is returned by Lookup for addresses never seen
var ErrUnknownClient = errors.New("unknown client")

// Session is what is known about one client address
type Session struct {
	Addr      string    `json:"addr"`
	UserAgent string    `json:"user_agent"`
	LastSeen  time.Time `json:"last_seen"`
}

// Tracker maps client addresses to their last user agent
type Tracker interface {
	Remember(ctx context.Context, addr, userAgent string) error
	Lookup(ctx context.Context, addr string) (*Session, error)
	List(ctx context.Context) ([]Session, error)
}

// NewTracker returns a Redis backed tracker when cfg names a server and an
// in-memory one otherwise
func NewTracker(cfg *config.RedisConfig) (Tracker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return NewMemoryTracker(), nil
	}
	cache, err := common.NewCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client tracker: %w", err)
	}
	return NewRedisTracker(cache, cfg.TTL), nil
}

// MemoryTracker keeps sessions for the life of the process
type MemoryTracker struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryTracker creates an empty in-memory tracker
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Remember records the user agent addr last presented
func (m *MemoryTracker) Remember(ctx context.Context, addr, userAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[addr] = Session{Addr: addr, UserAgent: userAgent, LastSeen: m.now()}
	return nil
}

// Lookup returns the session for addr or ErrUnknownClient
func (m *MemoryTracker) Lookup(ctx context.Context, addr string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, addr)
	}
	return &session, nil
}

// List returns all sessions ordered by address
func (m *MemoryTracker) List(ctx context.Context) ([]Session, error) {
	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sortSessions(sessions)
	return sessions, nil
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Addr < sessions[j].Addr })
}
