// Package cache persists token snapshots in Redis and fans applied changes
// out over Redis pub/sub.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/memefeed/engine/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned when no snapshot is stored.
var ErrCacheMiss = errors.New("snapshot not cached")

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a Redis client and verifies it with PING.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// cachedSnapshot is the stored form of a snapshot.
type cachedSnapshot struct {
	SavedAt time.Time           `json:"savedAt"`
	Tokens  []store.TokenRecord `json:"tokens"`
}

// SnapshotStore keeps the last good snapshot under a single key.
type SnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewSnapshotStore creates a SnapshotStore. A zero ttl keeps the key forever.
func NewSnapshotStore(client *redis.Client, key string, ttl time.Duration, log logrus.FieldLogger) *SnapshotStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl, log: log}
}

// SaveSnapshot stores records, replacing any previous snapshot.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, records []store.TokenRecord) error {
	data, err := json.Marshal(cachedSnapshot{SavedAt: time.Now().UTC(), Tokens: records})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"key":    s.key,
		"tokens": len(records),
	}).Debug("snapshot_cached")
	return nil
}

// LoadSnapshot returns the stored snapshot or ErrCacheMiss.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) ([]store.TokenRecord, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap cachedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"key":      s.key,
		"tokens":   len(snap.Tokens),
		"saved_at": snap.SavedAt,
	}).Info("snapshot_cache_hit")
	return snap.Tokens, nil
}
