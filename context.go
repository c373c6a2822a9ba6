package conveyor

import "context"

type contextKey string

const refContextKey contextKey = "conveyor:ref"

// ContextWithRef returns a context carrying the worker ref. Worker.Process
// installs it before the outermost layer runs, so layers and handlers can
// recover which worker they execute under.
func ContextWithRef(ctx context.Context, ref Ref) context.Context {
	return context.WithValue(ctx, refContextKey, ref)
}

// RefFromContext reports the worker ref stored in ctx, if any.
func RefFromContext(ctx context.Context) (Ref, bool) {
	ref, ok := ctx.Value(refContextKey).(Ref)
	return ref, ok
}
