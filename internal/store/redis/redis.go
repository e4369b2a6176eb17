// Package redis layers a shared Redis over another store backend. Login
// counters live only in Redis (native key expiry replaces pruning) and the
// Plex identifier cache is read through Redis in front of the durable copy.
// Everything else is delegated to the wrapped store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/store"
)

// mappingTTL bounds how long a cached mapping may shadow the durable copy.
const mappingTTL = 24 * time.Hour

// recordFailure increments the counter and starts its window on first use.
var recordFailure = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Store wraps a base store with Redis-backed counters and cache
type Store struct {
	store.Store
	client goredis.UniversalClient
	prefix string
}

// NewClient builds a client from configuration and checks it with a ping
func NewClient(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Wrap layers client over base. Keys are namespaced with prefix.
func Wrap(base store.Store, client goredis.UniversalClient, prefix string) *Store {
	return &Store{Store: base, client: client, prefix: prefix}
}

func (s *Store) attemptKey(key string) string {
	return s.prefix + "login:" + key
}

func (s *Store) mappingKey(plexGUID string) string {
	return s.prefix + "guid:" + plexGUID
}

// FailedAttempts returns the live counter. Redis expires the key when the
// window closes, so now is not consulted.
func (s *Store) FailedAttempts(ctx context.Context, key string, _ time.Duration, _ time.Time) (int, error) {
	n, err := s.client.Get(ctx, s.attemptKey(key)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get attempts: %w", err)
	}
	return n, nil
}

func (s *Store) RecordFailure(ctx context.Context, key string, window time.Duration, _ time.Time) (int, error) {
	n, err := recordFailure.Run(ctx, s.client, []string{s.attemptKey(key)}, window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis record failure: %w", err)
	}
	return n, nil
}

func (s *Store) ClearFailures(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.attemptKey(key)).Err()
}

// PruneAttempts is a no-op; counters expire in Redis.
func (s *Store) PruneAttempts(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) GetMapping(ctx context.Context, plexGUID string) (*models.IdentifierMapping, error) {
	raw, err := s.client.Get(ctx, s.mappingKey(plexGUID)).Bytes()
	if err == nil {
		var m models.IdentifierMapping
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			return &m, nil
		}
	} else if !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis get mapping: %w", err)
	}

	m, err := s.Store.GetMapping(ctx, plexGUID)
	if err != nil || m == nil {
		return m, err
	}
	if data, err := json.Marshal(m); err == nil {
		_ = s.client.Set(ctx, s.mappingKey(plexGUID), data, mappingTTL).Err()
	}
	return m, nil
}

// PutMapping writes the durable copy and drops the cached one so the next
// read picks up the merged record.
func (s *Store) PutMapping(ctx context.Context, m *models.IdentifierMapping) error {
	if err := s.Store.PutMapping(ctx, m); err != nil {
		return err
	}
	return s.client.Del(ctx, s.mappingKey(m.PlexGUID)).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return s.Store.Ping(ctx)
}

func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.Store.Close())
}

var _ store.Store = (*Store)(nil)
