package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/pkg/contextkeys"
	"github.com/arborhq/arbor/pkg/observability"
)

// RequestID assigns each request a UUID (or trusts an incoming X-Request-ID),
// echoes it in the response, and stores it on the context for log and audit
// correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// RequestLogger emits one structured log line per request and attaches a
// request-scoped logger to the context.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			reqLogger := logger.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": contextkeys.RequestID(r.Context()),
			})
			ctx := observability.WithLogger(r.Context(), reqLogger)

			next.ServeHTTP(rec, r.WithContext(ctx))

			entry := reqLogger.WithFields(map[string]interface{}{
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if actorID := actorIDFromRequest(r); actorID != "" {
				entry = entry.WithField("actor_id", actorID)
			}
			if rec.status >= http.StatusInternalServerError {
				entry.Error("request failed")
			} else {
				entry.Info("request handled")
			}
		})
	}
}

// Recovery converts panics in downstream handlers into 500 responses instead
// of taking the process down.
func Recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic": rec,
						"path":  r.URL.Path,
						"stack": string(debug.Stack()),
					}).Error("panic recovered in handler")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func actorIDFromRequest(r *http.Request) string {
	return contextkeys.ActorID(r.Context())
}
