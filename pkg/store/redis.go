package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the Redis store and notifier use.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisStore keeps one key per document.
// It's suitable for multi-server deployments with shared document state.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix for document keys.
// Default: "docsync:doc:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL expires documents that have not been saved for d.
// Default: 0 (never expire).
func WithRedisTTL(d time.Duration) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.ttl = d
	}
}

// NewRedisStore creates a new Redis-backed snapshot store.
func NewRedisStore(client RedisClient, opts ...RedisStoreOption) *RedisStore {
	cfg := &redisStoreConfig{
		prefix: "docsync:doc:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
	}
}

// key returns the Redis key for a document ID.
func (r *RedisStore) key(documentID string) string {
	return r.prefix + documentID
}

// LoadSnapshot reads and decodes the document key.
func (r *RedisStore) LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}

	data, err := r.client.Get(ctx, r.key(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeRecord(data)
}

// SaveSnapshot overwrites the document key.
func (r *RedisStore) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	return r.client.Set(ctx, r.key(documentID), EncodeRecord(snap), r.ttl).Err()
}

// Close marks the store as closed.
// Note: This does not close the underlying Redis client,
// as it may be shared with other components.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

// Prefix returns the current key prefix.
func (r *RedisStore) Prefix() string {
	return r.prefix
}
