package logx

import (
	"context"
	"time"
)

// Logger publishes events under a fixed logger name. Publication is O(1) for
// the caller; rendering happens in the manager's dispatch goroutine.
type Logger struct {
	manager *Manager
	name    string
	fields  []any
}

// With derives a logger carrying persistent key/value pairs.
func (l *Logger) With(fields ...any) *Logger {
	if l == nil || len(fields) == 0 {
		return l
	}
	next := make([]any, 0, len(l.fields)+len(fields))
	next = append(next, l.fields...)
	next = append(next, fields...)
	return &Logger{manager: l.manager, name: l.name, fields: next}
}

// Trace publishes a trace-level event.
func (l *Logger) Trace(ctx context.Context, msg string, fields ...any) {
	l.publish(ctx, LevelTrace, msg, nil, fields)
}

// Debug publishes a debug-level event.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...any) {
	l.publish(ctx, LevelDebug, msg, nil, fields)
}

// Info publishes an info-level event.
func (l *Logger) Info(ctx context.Context, msg string, fields ...any) {
	l.publish(ctx, LevelInfo, msg, nil, fields)
}

// Warn publishes a warn-level event.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...any) {
	l.publish(ctx, LevelWarn, msg, nil, fields)
}

// Error publishes an error-level event including the supplied error.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...any) {
	l.publish(ctx, LevelError, msg, err, fields)
}

func (l *Logger) publish(ctx context.Context, level Level, msg string, err error, fields []any) {
	if l == nil || l.manager == nil {
		return
	}
	if level < l.manager.minLevel {
		return
	}

	e := acquireEvent()
	e.Time = time.Now()
	e.Level = level
	e.Logger = l.name
	e.Message = msg
	e.CorrelationID = GetCorrelationID(ctx)
	e.Err = err
	e.Fields = mergeEventFields(contextFields(ctx), l.fields, fields)

	l.manager.publish(e)
}

func mergeEventFields(ctxFields map[string]any, persistent, call []any) map[string]any {
	total := len(ctxFields) + len(persistent)/2 + len(call)/2
	if total == 0 {
		return nil
	}
	out := make(map[string]any, total)
	for k, v := range ctxFields {
		out[k] = v
	}
	addPairs(out, persistent)
	addPairs(out, call)
	return out
}

func addPairs(dst map[string]any, pairs []any) {
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok || key == "" {
			continue
		}
		dst[key] = pairs[i+1]
	}
}
