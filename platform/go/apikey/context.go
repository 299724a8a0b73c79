package apikey

import (
	"context"

	"github.com/google/uuid"
)

// Permission names granted to credentials.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// AuthContext is the resolved identity of an authenticated request. Every
// downstream query is scoped by TenantID from this struct, never by
// anything the caller supplied.
type AuthContext struct {
	TenantID           uuid.UUID
	CredentialID       uuid.UUID
	Permissions        []string
	RateLimitPerMinute int
}

// HasPermission reports whether the credential carries the named scope.
func (a AuthContext) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithAuthContext returns a derived context carrying the authenticated
// identity.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, auth)
}

// FromContext extracts the identity and a boolean indicating presence.
func FromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(ctxKey{}).(AuthContext)
	return auth, ok
}
