package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend using Redis.
// It provides shared session storage suitable for hosted deployments where
// several assistant instances serve the same workspace.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all records (default: "snowcode:").
	Prefix string `yaml:"prefix"`
	// TTL is the record expiry duration (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "snowcode:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "snowcode:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) key(path []string) string {
	return b.prefix + strings.Join(path, "/")
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Read retrieves the raw record at path.
func (b *RedisBackend) Read(ctx context.Context, path []string) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return data, nil
}

// Write creates or replaces the record at path.
func (b *RedisBackend) Write(ctx context.Context, path []string, data []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	if err := b.client.Set(ctx, b.key(path), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

// Remove deletes the record at path.
func (b *RedisBackend) Remove(ctx context.Context, path []string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	if err := b.client.Del(ctx, b.key(path)).Err(); err != nil {
		return fmt.Errorf("del record: %w", err)
	}
	return nil
}

// List returns the key paths of all records under prefix using SCAN, so
// large namespaces never block the server the way KEYS would.
func (b *RedisBackend) List(ctx context.Context, prefix []string) ([][]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePath(prefix); err != nil {
		return nil, err
	}

	match := b.key(prefix) + "/*"
	var paths [][]string

	iter := b.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), b.prefix)
		paths = append(paths, strings.Split(key, "/"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return paths, nil
}

// Update applies fn to the record at path. Concurrent updates serialize
// within the process; across processes the last writer wins, which is the
// accepted concurrency policy for this store.
func (b *RedisBackend) Update(ctx context.Context, path []string, fn func(data []byte) ([]byte, error)) error {
	if err := validatePath(path); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	data, err := b.client.Get(ctx, b.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("get record: %w", err)
	}

	updated, err := fn(data)
	if err != nil {
		return err
	}

	if err := b.client.Set(ctx, b.key(path), updated, b.ttl).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}
