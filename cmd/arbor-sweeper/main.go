package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/config"
	"github.com/arborhq/arbor/pkg/invitations"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/storage/postgres"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run one sweep and exit (for testing)")
	metricsPort = flag.String("metrics-port", "9091", "Port for the sweeper's metrics endpoint")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("component", "sweeper")

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.Storage.PostgresURL,
		MaxConns:   cfg.Storage.PostgresMaxConns,
		Timeout:    cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer connections.Close()
	db := connections.Primary()

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit logger")
		os.Exit(1)
	}
	defer auditLogger.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	service := invitations.NewService(db, invitations.ServiceConfig{
		TTL:    cfg.Invitations.TTL,
		Logger: logger,
	})

	sweep := func(ctx context.Context) {
		expired, err := service.ExpireStale(ctx)
		if err != nil {
			logger.WithError(err).Error("invitation sweep failed")
			return
		}
		if expired > 0 {
			metrics.ExpiredInvitationsTotal.Add(float64(expired))
			if err := auditLogger.LogAlert(ctx, audit.EventTypeInvitationExpire,
				audit.ResourceTypeInvitation, "", "swept expired invitations"); err != nil {
				logger.WithError(err).Warn("failed to record sweep audit event")
			}
		}

		pending, err := service.CountPending(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to count pending invitations")
			return
		}
		metrics.PendingInvitationsTotal.Set(float64(pending))

		logger.WithFields(map[string]interface{}{
			"expired": expired,
			"pending": pending,
		}).Info("invitation sweep completed")
	}

	if *runOnce {
		sweep(context.Background())
		return
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Invitations.SweepSchedule, func() {
		sweep(context.Background())
	})
	if err != nil {
		logger.WithError(err).Errorf("invalid sweep schedule %q", cfg.Invitations.SweepSchedule)
		os.Exit(1)
	}

	scheduler.Start()
	logger.WithField("schedule", cfg.Invitations.SweepSchedule).Info("invitation sweeper started")

	metricsMux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(metricsMux, registry)
	metricsServer := &http.Server{Addr: ":" + *metricsPort, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics listener failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, metricsServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
	logger.Info("sweeper stopped")
}
