// Package contextkeys holds the request-scoped context values shared by the
// HTTP view and the logger. The table engine keeps its own cycle marker
// private to pkg/table.
package contextkeys

import "context"

type key int

const (
	requestIDKey key = iota
	loggerKey
)

// WithRequestID stores the request ID set by httputil.RequestIDMiddleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request logger. The value is typed by the caller,
// which keeps this package free of the observability import.
func WithLogger(ctx context.Context, logger any) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the value stored by WithLogger.
func Logger(ctx context.Context) any {
	return ctx.Value(loggerKey)
}
