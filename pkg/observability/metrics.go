package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Permission resolution metrics
	ResolutionsTotal        *prometheus.CounterVec
	ResolutionDuration      *prometheus.HistogramVec
	PermissionChecksTotal   *prometheus.CounterVec
	NoPrimaryEntityTotal    prometheus.Counter
	CorruptHierarchyTotal   prometheus.Counter

	// Credit metrics
	CreditOperationsTotal  *prometheus.CounterVec
	CreditConflictsTotal   prometheus.Counter
	AllocationDenialsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisCommandsTotal   *prometheus.CounterVec
	RedisCommandDuration *prometheus.HistogramVec

	// Business metrics
	EntitiesTotal          *prometheus.GaugeVec
	MembershipsTotal       prometheus.Gauge
	PendingInvitationsTotal prometheus.Gauge
	ExpiredInvitationsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Permission resolution metrics
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_permission_resolutions_total",
				Help: "Total number of effective permission resolutions",
			},
			[]string{"status"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_permission_resolution_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"source"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_permission_checks_total",
				Help: "Total number of individual permission checks",
			},
			[]string{"result"},
		),
		NoPrimaryEntityTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_no_primary_entity_total",
				Help: "Total number of primary entity lookups that found none",
			},
		),
		CorruptHierarchyTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_corrupt_hierarchy_total",
				Help: "Total number of hierarchy traversals aborted due to cycles or broken links",
			},
		),

		// Credit metrics
		CreditOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_credit_operations_total",
				Help: "Total number of credit ledger operations",
			},
			[]string{"operation", "status"},
		),
		CreditConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_credit_conflicts_total",
				Help: "Total number of credit operations rejected due to concurrent modification",
			},
		),
		AllocationDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_allocation_denials_total",
				Help: "Total number of allocations denied by invariant checks",
			},
			[]string{"reason"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
		RedisCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_redis_command_duration_seconds",
				Help:    "Redis command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		// Business metrics
		EntitiesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arbor_entities_total",
				Help: "Number of active entities by type",
			},
			[]string{"entity_type"},
		),
		MembershipsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_memberships_total",
				Help: "Total number of memberships",
			},
		),
		PendingInvitationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbor_pending_invitations_total",
				Help: "Number of invitations currently pending",
			},
		),
		ExpiredInvitationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_expired_invitations_total",
				Help: "Total number of invitations marked expired by the sweeper",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.PermissionChecksTotal,
		m.NoPrimaryEntityTotal,
		m.CorruptHierarchyTotal,
		m.CreditOperationsTotal,
		m.CreditConflictsTotal,
		m.AllocationDenialsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisCommandsTotal,
		m.RedisCommandDuration,
		m.EntitiesTotal,
		m.MembershipsTotal,
		m.PendingInvitationsTotal,
		m.ExpiredInvitationsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
