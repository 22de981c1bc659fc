package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arborhq/arbor/pkg/api"
	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/catalog"
	"github.com/arborhq/arbor/pkg/config"
	"github.com/arborhq/arbor/pkg/credits"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/identity"
	"github.com/arborhq/arbor/pkg/invitations"
	"github.com/arborhq/arbor/pkg/membership"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.OTelEnabled {
		providers, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("failed to initialize OpenTelemetry")
			os.Exit(1)
		}
		defer func() {
			if err := observability.ShutdownOTel(context.Background(), providers, logger); err != nil {
				logger.WithError(err).Error("OpenTelemetry shutdown failed")
			}
		}()
	}

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer connections.Close()

	db := connections.Primary()

	components := []struct {
		name       string
		migrations []postgres.Migration
	}{
		{"hierarchy", hierarchy.GetMigrations()},
		{"catalog", catalog.GetMigrations()},
		{"membership", membership.GetMigrations()},
		{"credits", credits.GetMigrations()},
		{"invitations", invitations.GetMigrations()},
		{"audit", audit.GetMigrations()},
	}
	for _, component := range components {
		if err := postgres.RunMigrations(ctx, db, component.name, component.migrations, logger); err != nil {
			logger.WithError(err).Errorf("migrations failed for %s", component.name)
			os.Exit(1)
		}
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit logger")
		os.Exit(1)
	}
	defer auditLogger.Close()

	var cache *postgres.Cache
	var redisClient *redis.Client
	if cfg.Storage.CacheEnabled {
		cache, err = postgres.NewCache(cfg.Storage)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer cache.Close()
		redisClient = cache.Client()
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var provider identity.Provider
	switch cfg.Identity.Provider {
	case "oidc":
		provider, err = identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			IssuerURL:    cfg.Identity.OIDCIssuerURL,
			ClientID:     cfg.Identity.OIDCClientID,
			ClientSecret: cfg.Identity.OIDCClientSecret,
			RedirectURL:  cfg.Identity.OIDCRedirectURL,
		})
		if err != nil {
			logger.WithError(err).Error("failed to initialize OIDC provider")
			os.Exit(1)
		}
	default:
		logger.Warn("using the static identity provider; tokens must be registered programmatically")
		provider = identity.NewStaticProvider("")
	}

	seeder := catalog.NewSeeder(catalog.NewStore(db), logger)
	if err := seeder.LoadAndApply(ctx, cfg.Catalog.SeedPath); err != nil {
		logger.WithError(err).Error("failed to seed system roles")
		os.Exit(1)
	}
	if cfg.Catalog.SeedWatch && cfg.Catalog.SeedPath != "" {
		go func() {
			if err := seeder.Watch(ctx, cfg.Catalog.SeedPath); err != nil {
				logger.WithError(err).Error("seed file watcher stopped")
			}
		}()
	}

	server, err := api.NewServer(api.Deps{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		Cache:       cache,
		Provider:    provider,
		AuditLogger: auditLogger,
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
	})
	if err != nil {
		logger.WithError(err).Error("failed to build server")
		os.Exit(1)
	}

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
