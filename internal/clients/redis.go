package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/common"
)

const keyPrefix = "autobackup:client:"

// RedisTracker shares client sessions between server instances
type RedisTracker struct {
	cache *common.Cache
	ttl   time.Duration
}

// NewRedisTracker stores sessions in cache, expiring them after ttl
func NewRedisTracker(cache *common.Cache, ttl time.Duration) *RedisTracker {
	return &RedisTracker{cache: cache, ttl: ttl}
}

// Remember stores the session under the client key, refreshing its expiry
func (r *RedisTracker) Remember(ctx context.Context, addr, userAgent string) error {
	session := Session{Addr: addr, UserAgent: userAgent, LastSeen: time.Now()}
	if err := r.cache.Set(ctx, keyPrefix+addr, session, r.ttl); err != nil {
		return fmt.Errorf("failed to remember client %s: %w", addr, err)
	}
	return nil
}

// Lookup returns the stored session or ErrUnknownClient
func (r *RedisTracker) Lookup(ctx context.Context, addr string) (*Session, error) {
	var session Session
	if err := r.cache.Get(ctx, keyPrefix+addr, &session); err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClient, addr)
		}
		return nil, err
	}
	return &session, nil
}

// List scans every client key
func (r *RedisTracker) List(ctx context.Context) ([]Session, error) {
	keys, err := r.cache.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(keys))
	for _, key := range keys {
		var session Session
		if err := r.cache.Get(ctx, key, &session); err != nil {
			// expired between SCAN and GET
			if errors.Is(err, common.ErrCacheMiss) {
				continue
			}
			log.Warn().Err(err).Str("key", key).Msg("failed to read client session")
			continue
		}
		sessions = append(sessions, session)
	}

	sortSessions(sessions)
	return sessions, nil
}
