// Package serverutil holds small request helpers shared by the server and its
// plugins.
package serverutil

import "context"

type addressKey struct{}

// DefaultAddress is returned by AddressFromContext when no address is known.
const DefaultAddress = "http://localhost:8000"

// WithAddress returns a context carrying the externally visible address of the
// server, e.g. "https://api.example.com".
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey{}, address)
}

// AddressFromContext returns the address stored with WithAddress.
func AddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(addressKey{}).(string); ok {
		return v
	}
	return DefaultAddress
}
