package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arborhq/arbor/pkg/storage"
)

// Cache is a Redis-backed read-through cache for permission resolutions,
// subtree listings, and ancestor chains. All values are stored as JSON
// under typed keys with per-type TTLs.
type Cache struct {
	client *redis.Client
	ttl    map[string]time.Duration
}

// NewCache connects to Redis using the storage configuration
func NewCache(cfg storage.Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl == nil {
		ttl = storage.DefaultConfig().CacheTTL
	}

	return &Cache{
		client: client,
		ttl:    ttl,
	}, nil
}

// NewCacheWithClient wraps an existing Redis client. Used in tests.
func NewCacheWithClient(client *redis.Client, ttl map[string]time.Duration) *Cache {
	if ttl == nil {
		ttl = storage.DefaultConfig().CacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Client exposes the underlying Redis client for health checks
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// ResolutionKey is the cache key for a user's effective permissions
// within an entity
func ResolutionKey(userID, entityID string) string {
	return fmt.Sprintf("resolution:user:%s:entity:%s", userID, entityID)
}

// SubtreeKey is the cache key for an entity's descendant listing
func SubtreeKey(entityID string) string {
	return fmt.Sprintf("subtree:%s", entityID)
}

// AncestorsKey is the cache key for an entity's ancestor chain
func AncestorsKey(entityID string) string {
	return fmt.Sprintf("ancestors:%s", entityID)
}

// Get retrieves a cached value into dest. Returns false on a cache miss.
// Corrupt entries are deleted and treated as misses.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.client.Del(ctx, key)
		return false, nil
	}

	return true, nil
}

// Set stores a value under key with the TTL configured for keyType
func (c *Cache) Set(ctx context.Context, keyType, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return c.client.Set(ctx, key, data, c.ttl[keyType]).Err()
}

// Invalidate removes the given keys from the cache
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateUser removes all cached resolutions for a user. Called when
// the user's memberships or roles change.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	return c.invalidatePattern(ctx, fmt.Sprintf("resolution:user:%s:entity:*", userID))
}

// InvalidateEntity removes all cached data touching an entity: its
// subtree and ancestors entries plus every resolution scoped to it.
// Called when the entity moves, deactivates, or its roles change.
func (c *Cache) InvalidateEntity(ctx context.Context, entityID string) error {
	if err := c.Invalidate(ctx, SubtreeKey(entityID), AncestorsKey(entityID)); err != nil {
		return err
	}
	return c.invalidatePattern(ctx, fmt.Sprintf("resolution:user:*:entity:%s", entityID))
}

// InvalidateAll clears the whole cache database
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}

func (c *Cache) invalidatePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// TTL returns the configured TTL for a key type
func (c *Cache) TTL(keyType string) time.Duration {
	return c.ttl[keyType]
}
