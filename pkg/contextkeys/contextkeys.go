// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions.
type Key string

const (
	// ActorKey contains the authenticated user's ID (string).
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Used by: audit trail, handlers recording who performed a mutation
	ActorKey Key = "actor_id"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: HTTP middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger.
	// Set by: observability middleware
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger.
	// Set by: audit middleware
	AuditLoggerKey Key = "audit_logger"
)

// WithActorID adds the authenticated user's ID to the context.
func WithActorID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ActorKey, userID)
}

// ActorID retrieves the authenticated user's ID, or "" if unauthenticated.
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(ActorKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID, or "" if unset.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
