package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the direct TCP backend used for local development and
// self-hosted deployments.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the server described by the redis URL and
// verifies the connection with a ping.
func NewRedisStore(ctx context.Context, dsn string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store DSN: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Put writes the JSON-encoded value with its TTL in a single SET ... EX.
func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store write failed for %s: %w", key, err)
	}
	return nil
}

// Get returns the stored bytes, or found=false once the key has expired.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store read failed for %s: %w", key, err)
	}
	return data, true, nil
}

// SetMeta writes the three metadata keys without TTL. The three writes are
// pipelined but individually unconditional; metadata has no atomicity
// requirement.
func (s *RedisStore) SetMeta(ctx context.Context, name, status string, errorCount int) error {
	now := time.Now().UnixMilli()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, metaKey(name, "status"), status, 0)
	pipe.Set(ctx, metaKey(name, "last-run"), now, 0)
	pipe.Set(ctx, metaKey(name, "error-count"), errorCount, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("meta write failed for %s: %w", name, err)
	}
	return nil
}

// GetMeta reads the metadata triple; a fully missing triple means the
// collector has never run.
func (s *RedisStore) GetMeta(ctx context.Context, name string) (Meta, error) {
	meta := Meta{Status: StatusUnknown}

	status, err := s.client.Get(ctx, metaKey(name, "status")).Result()
	if err == redis.Nil {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("meta read failed for %s: %w", name, err)
	}
	meta.Status = status

	if raw, err := s.client.Get(ctx, metaKey(name, "last-run")).Result(); err == nil {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			meta.LastRun = ms
		}
	}
	if raw, err := s.client.Get(ctx, metaKey(name, "error-count")).Result(); err == nil {
		if n, perr := strconv.Atoi(raw); perr == nil {
			meta.ErrorCount = n
		}
	}
	return meta, nil
}

// Ping reports whether the server answers.
func (s *RedisStore) Ping(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Keys scans for keys matching the prefix.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("key scan failed: %w", err)
	}
	return keys, nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
