package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arborhq/arbor/pkg/credits"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Identity provider configuration
	Identity IdentityConfig

	// Role catalog configuration
	Catalog CatalogConfig

	// Credit allocation configuration
	Credits CreditsConfig

	// Invitation lifecycle configuration
	Invitations InvitationsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// IdentityConfig holds identity provider settings
type IdentityConfig struct {
	// "oidc" or "static"
	Provider string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// CatalogConfig holds role catalog settings
type CatalogConfig struct {
	// Path to a YAML file of seed roles, loaded at startup
	SeedPath string
	// Reload seed roles when the file changes
	SeedWatch bool
}

// CreditsConfig holds credit allocation settings
type CreditsConfig struct {
	DefaultCascadePolicy credits.CascadePolicy
}

// InvitationsConfig holds invitation lifecycle settings
type InvitationsConfig struct {
	// How long a pending invitation stays valid
	TTL time.Duration
	// Cron schedule for the expiry sweeper
	SweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Identity:      loadIdentityConfig(),
		Catalog:       loadCatalogConfig(),
		Credits:       loadCreditsConfig(),
		Invitations:   loadInvitationsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ARBOR_HOST", "0.0.0.0"),
		Port:            getEnv("ARBOR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ARBOR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ARBOR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ARBOR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ARBOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ARBOR_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("ARBOR_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("ARBOR_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("ARBOR_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("ARBOR_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("ARBOR_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("ARBOR_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("ARBOR_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("ARBOR_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("ARBOR_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("ARBOR_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	if cacheEnabled := getEnv("ARBOR_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if ancestorCacheSize := getEnvInt("ARBOR_ANCESTOR_CACHE_SIZE", 0); ancestorCacheSize > 0 {
		cfg.AncestorCacheSize = ancestorCacheSize
	}

	return cfg
}

// loadIdentityConfig loads identity provider configuration from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		Provider:         getEnv("ARBOR_IDENTITY_PROVIDER", "static"),
		OIDCIssuerURL:    getEnv("ARBOR_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("ARBOR_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("ARBOR_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("ARBOR_OIDC_REDIRECT_URL", ""),
	}
}

// loadCatalogConfig loads role catalog configuration from environment
func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		SeedPath:  getEnv("ARBOR_ROLE_SEED_PATH", ""),
		SeedWatch: getEnvBool("ARBOR_ROLE_SEED_WATCH", false),
	}
}

// loadCreditsConfig loads credit allocation configuration from environment
func loadCreditsConfig() CreditsConfig {
	return CreditsConfig{
		DefaultCascadePolicy: credits.CascadePolicy(getEnv("ARBOR_CASCADE_POLICY", string(credits.CascadeIndependent))),
	}
}

// loadInvitationsConfig loads invitation configuration from environment
func loadInvitationsConfig() InvitationsConfig {
	return InvitationsConfig{
		TTL:           getEnvDuration("ARBOR_INVITATION_TTL", 7*24*time.Hour),
		SweepSchedule: getEnv("ARBOR_INVITATION_SWEEP_SCHEDULE", "@every 10m"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ARBOR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ARBOR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ARBOR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ARBOR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ARBOR_OTEL_SERVICE_NAME", "arbor"),
		OTelServiceVersion: getEnv("ARBOR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ARBOR_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.CacheEnabled && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when caching is enabled")
	}

	switch c.Identity.Provider {
	case "static":
	case "oidc":
		if c.Identity.OIDCIssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required for the oidc identity provider")
		}
		if c.Identity.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required for the oidc identity provider")
		}
	default:
		return fmt.Errorf("invalid identity provider: %s (must be static or oidc)", c.Identity.Provider)
	}

	switch c.Credits.DefaultCascadePolicy {
	case credits.CascadeIndependent, credits.CascadeBounded:
	default:
		return fmt.Errorf("invalid cascade policy: %s (must be independent or bounded)", c.Credits.DefaultCascadePolicy)
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
