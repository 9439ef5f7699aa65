package storage

import "context"

// tenantKey is a private type for the tenant context key, preventing
// collisions with other packages.
type tenantKey struct{}

// SetTenant injects the authenticated tenant's client key into the context.
func SetTenant(ctx context.Context, clientKey string) context.Context {
	return context.WithValue(ctx, tenantKey{}, clientKey)
}

// GetTenant extracts the tenant client key from the context.
// Returns an empty string if no tenant is set.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
