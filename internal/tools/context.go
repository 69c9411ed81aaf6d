package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	requestIDKey contextKey = "request_id"
)

// WithSessionID adds the session ID to the context so provider calls
// made on its behalf can be attributed.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// WithRequestID adds the originating request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID from the context.
// Returns "" if not set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
