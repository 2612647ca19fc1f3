package requestctx

import (
	"context"
	"strings"
)

type addressContextKey struct{}

// WithAddress stores the authenticated wallet address in context.
// Addresses are normalized to lowercase.
func WithAddress(ctx context.Context, address string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, addressContextKey{}, strings.ToLower(strings.TrimSpace(address)))
}

// AddressFromContext returns the authenticated address stored in context.
func AddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(addressContextKey{}).(string)
	return value
}
