package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/catalog"
	"github.com/arborhq/arbor/pkg/config"
	"github.com/arborhq/arbor/pkg/credits"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/identity"
	"github.com/arborhq/arbor/pkg/invitations"
	"github.com/arborhq/arbor/pkg/membership"
	"github.com/arborhq/arbor/pkg/middleware"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/storage/postgres"
)

// Deps carries the server's collaborators, built once in main and shared
// across handlers.
type Deps struct {
	Config      *config.Config
	DB          *sql.DB
	Redis       *redis.Client // nil when caching is disabled
	Cache       *postgres.Cache
	Provider    identity.Provider
	AuditLogger audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry
}

// Server is the Arbor HTTP API: entity tree, role catalog, memberships and
// permission resolution, credit allocations, and invitations under /api/v1.
type Server struct {
	router   *mux.Router
	deps     Deps
	logger   *observability.Logger
	resolver *membership.Resolver

	hierarchyHandlers  *hierarchy.Handlers
	catalogHandlers    *catalog.Handlers
	membershipHandlers *membership.Handlers
	creditHandlers     *credits.Handlers
	invitationHandlers *invitations.Handlers
}

// NewServer wires the feature handlers and middleware chain.
func NewServer(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = observability.DefaultLogger()
	}
	if deps.AuditLogger == nil {
		deps.AuditLogger = audit.NopLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: deps.Logger,
	}

	s.hierarchyHandlers = hierarchy.NewHandlers(deps.DB, deps.AuditLogger)
	s.catalogHandlers = catalog.NewHandlers(deps.DB, deps.AuditLogger)

	membershipStore := membership.NewStore(deps.DB)
	resolver, err := membership.NewResolver(
		membershipStore,
		s.catalogHandlers.Store(),
		s.hierarchyHandlers.Store(),
		membership.ResolverConfig{
			Cache:             deps.Cache,
			AuditLogger:       deps.AuditLogger,
			Metrics:           deps.Metrics,
			Logger:            deps.Logger,
			AncestorCacheSize: deps.Config.Storage.AncestorCacheSize,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver: %w", err)
	}
	s.resolver = resolver
	s.membershipHandlers = membership.NewHandlers(membershipStore, resolver, deps.AuditLogger)

	creditStore := credits.NewStore(deps.DB, deps.Config.Credits.DefaultCascadePolicy, deps.Metrics)
	s.creditHandlers = credits.NewHandlers(creditStore, deps.AuditLogger)

	invitationService := invitations.NewService(deps.DB, invitations.ServiceConfig{
		TTL:         deps.Config.Invitations.TTL,
		DefaultRole: invitations.FirstAvailableRole(s.catalogHandlers.Store()),
		Logger:      deps.Logger,
	})
	s.invitationHandlers = invitations.NewHandlers(invitationService, deps.AuditLogger)

	s.setupRoutes()
	return s, nil
}

// Resolver exposes the permission resolver, for callers embedding the server.
func (s *Server) Resolver() *membership.Resolver {
	return s.resolver
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// setupRoutes configures the middleware chain and mounts every feature's
// routes under /api/v1.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	authMiddleware := middleware.NewAuthMiddleware(s.deps.Provider, false, s.logger)

	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMiddleware.Handler)
	if s.deps.Redis != nil {
		apiRouter.Use(middleware.NewDistributedRateLimitMiddleware(s.deps.Redis, s.logger).Handler)
	} else {
		apiRouter.Use(middleware.NewRateLimitMiddleware().Handler)
	}

	registrars := []RouteRegistrar{
		s.hierarchyHandlers,
		s.catalogHandlers,
		s.membershipHandlers,
		s.creditHandlers,
		s.invitationHandlers,
	}
	// The audit trail is queryable only when events are persisted.
	if dbLogger, ok := s.deps.AuditLogger.(*audit.DBLogger); ok {
		registrars = append(registrars, audit.NewHandlers(dbLogger))
	}
	for _, registrar := range registrars {
		registrar.RegisterRoutes(apiRouter)
	}
}

// RegisterRoutes mounts additional routes on the root router.
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves the API and the health/metrics listener until ctx is canceled,
// then shuts both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.deps.Config.Server

	var apiHandler http.Handler = s
	if s.deps.Config.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(s, "arbor-api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(s.deps.DB, s.deps.Redis, s.deps.Config.Observability.OTelServiceVersion)
	observability.RegisterHealthRoutes(healthMux, checker)
	if s.deps.Registry != nil && s.deps.Config.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, s.deps.Registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Host + ":" + cfg.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		s.logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down http servers")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("api server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("health server shutdown failed")
		}
		return nil
	})

	return group.Wait()
}
