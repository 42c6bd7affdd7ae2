package logging

import "context"

type contextKey int

const (
	cycleIDKey contextKey = iota
	requestIDKey
)

// WithCycleID tags ctx with the ID of a refresh cycle.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleID returns the refresh cycle ID carried by ctx, if any.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey).(string)
	return id
}

// WithRequestID tags ctx with the ID of an HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the HTTP request ID carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
