package cache

import (
	"context"
)

type freshContextKey struct{}

// WithFresh marks ctx so wrapped calls made with it skip the cache entirely:
// no read, no write.
func WithFresh(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, freshContextKey{}, true)
}

// IsFresh reports whether ctx was marked with WithFresh.
func IsFresh(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	fresh, _ := ctx.Value(freshContextKey{}).(bool)
	return fresh
}
