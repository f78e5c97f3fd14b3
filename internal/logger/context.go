package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID tags ctx with the inbound request ID. Execution runs deep
// into retries and authorization waits long after the handler returned;
// carrying the ID in the context is what keeps those log lines
// attributable to the request that started them.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "" if none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns a logger carrying the request ID when ctx has one,
// and the default logger otherwise. Services below the HTTP layer log
// through it so retry and decision records stay correlated.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}
