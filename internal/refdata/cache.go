package refdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores the raw scrip master between runs.
type Cache interface {
	// Get returns the cached bytes and when they were fetched. ok is false
	// when nothing is cached.
	Get(ctx context.Context) (data []byte, fetchedAt time.Time, ok bool, err error)
	Put(ctx context.Context, data []byte) error
}

// FileCache keeps the scrip master in a local JSON file. The file's
// modification time is the fetch time.
type FileCache struct {
	Path string
}

// NewFileCache returns a cache at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{Path: path}
}

// Get reads the cache file.
func (c *FileCache) Get(_ context.Context) ([]byte, time.Time, bool, error) {
	info, err := os.Stat(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("stat cache %s: %w", c.Path, err)
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("reading cache %s: %w", c.Path, err)
	}
	if len(data) == 0 {
		return nil, time.Time{}, false, nil
	}
	return data, info.ModTime(), true, nil
}

// Put writes the cache file atomically.
func (c *FileCache) Put(_ context.Context, data []byte) error {
	if dir := filepath.Dir(c.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating cache dir: %w", err)
		}
	}
	// Write to temp file first
	tmpFile := c.Path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	// Atomic rename
	if err := os.Rename(tmpFile, c.Path); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}
	return nil
}

// RedisCache keeps the scrip master in a Redis hash so several hosts can
// share one download.
//
// Key schema:
//
//	{key} - hash with fields "data" (raw JSON) and "fetched_at" (unix seconds)
type RedisCache struct {
	rdb       *redis.Client
	key       string
	retention time.Duration
}

// NewRedisCache creates a cache under key. retention bounds how long a stale
// copy survives for fallback; it should exceed the freshness TTL.
func NewRedisCache(rdb *redis.Client, key string, retention time.Duration) *RedisCache {
	if key == "" {
		key = "refdata:scrip_master"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, key: key, retention: retention}
}

// Get reads the cached hash.
func (c *RedisCache) Get(ctx context.Context) ([]byte, time.Time, bool, error) {
	vals, err := c.rdb.HMGet(ctx, c.key, "data", "fetched_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("redis: get %s: %w", c.key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, time.Time{}, false, nil
	}
	data, ok := vals[0].(string)
	if !ok || data == "" {
		return nil, time.Time{}, false, nil
	}
	var fetchedAt time.Time
	if s, ok := vals[1].(string); ok {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			fetchedAt = time.Unix(secs, 0)
		}
	}
	return []byte(data), fetchedAt, true, nil
}

// Put stores data with the current time.
func (c *RedisCache) Put(ctx context.Context, data []byte) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key, "data", data, "fetched_at", time.Now().Unix())
	pipe.Expire(ctx, c.key, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %s: %w", c.key, err)
	}
	return nil
}
