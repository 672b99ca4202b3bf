package logx

import (
	"context"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

type contextFieldsKey struct{}

// WithCorrelationID attaches the provided correlation ID to the context so
// downstream components emit correlated events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GetCorrelationID extracts a correlation ID from context. It returns an empty
// string when none has been set; callers should treat that as "uncorrelated".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID produces a new identifier suitable for correlating the
// events of a single run. Entry points should invoke this once per run.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithFields attaches key/value pairs to the context. Events published under
// the context copy the active map; inner scopes shadow outer keys.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	merged := make(map[string]any, len(fields))
	for k, v := range contextFields(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, contextFieldsKey{}, merged)
}

func contextFields(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	if fields, ok := ctx.Value(contextFieldsKey{}).(map[string]any); ok {
		return fields
	}
	return nil
}
