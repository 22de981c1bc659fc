package audit

import (
	"context"
	"time"

	"github.com/arborhq/arbor/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogDataMutation logs a data mutation event
	LogDataMutation(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// LogAlert logs a data-quality alert event
	LogAlert(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// LoggerKey is the context key for the audit logger
const LoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the audit logger from context. A no-op logger
// is returned when none is set, so call sites never need a nil check.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(LoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// NopLogger returns a logger that discards all events.
func NopLogger() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (l *noOpLogger) LogDataMutation(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return nil
}

func (l *noOpLogger) LogAlert(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// buildBaseEvent creates a base audit event with common fields populated
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}

	if reqID := contextkeys.RequestID(ctx); reqID != "" {
		event.RequestID = reqID
	}
	if actor := contextkeys.ActorID(ctx); actor != "" {
		event.ActorID = actor
	}

	return event
}
