// Package storage holds configuration for the PostgreSQL and Redis
// backends. The connection managers themselves live in the postgres
// subpackage.
package storage

import "time"

// Config for the storage backend
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration

	// In-process LRU for ancestor chains
	AncestorCacheSize int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresURL:       "postgres://localhost:5432/arbor?sslmode=disable",
		PostgresMaxConns:  20,
		PostgresMinConns:  2,
		PostgresTimeout:   10 * time.Second,
		RedisURL:          "redis://localhost:6379",
		RedisDB:           0,
		RedisMaxRetries:   3,
		RedisPoolSize:     10,
		CacheEnabled:      true,
		AncestorCacheSize: 4096,
		CacheTTL: map[string]time.Duration{
			"resolution": 5 * time.Minute,
			"subtree":    10 * time.Minute,
			"ancestors":  15 * time.Minute,
			"role":       30 * time.Minute,
		},
	}
}
