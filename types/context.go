package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keySessionID contextKey = "session_id"
	keyTurnID    contextKey = "turn_id"
	keyRequestID contextKey = "request_id"
)

// WithSessionID adds session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithTurnID adds turn ID to context.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, keyTurnID, turnID)
}

// TurnID extracts turn ID from context.
func TurnID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTurnID).(string)
	return v, ok && v != ""
}

// WithRequestID adds HTTP request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts HTTP request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}
