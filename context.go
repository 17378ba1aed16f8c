package dynacrud

import "context"

// callerKey is the context key for the authenticated caller id.
type callerKey struct{}

// WithCaller returns a new context carrying the authenticated caller id.
// Authentication itself happens outside the engine; this only records
// its result for the normalizer.
func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerID returns the authenticated caller id stored in ctx, if any.
func CallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok && id != ""
}
