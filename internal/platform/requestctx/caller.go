// Package requestctx carries request-scoped identity through payout calls.
package requestctx

import "context"

// callerContextKey is the context key for the calling service or operator.
type callerContextKey struct{}

// WithCaller stores the identity of whoever asked for the operation, such as
// the settlement policy service or an operator handle.
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller stored in context.
func CallerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(callerContextKey{}).(string)
	return value
}
