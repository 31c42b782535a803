// Package tenant carries the tenant identity through every operation.
//
// The tenant is derived from the authenticated principal at request entry or
// pinned at job enqueue; no business operation reads it from user input.
// Cross-tenant access fails with not-found semantics so the existence of
// data in other tenants cannot be inferred.
package tenant

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "orderflow.principal"

// Principal is the authenticated identity a request or job runs as.
type Principal struct {
	TenantID string
	ActorID  string
}

// ErrNoTenant is returned when an operation runs without a tenant context.
var ErrNoTenant = errors.New("no tenant in context")

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the principal.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.TenantID == "" {
		return Principal{}, ErrNoTenant
	}
	return p, nil
}

// ID returns the tenant id from the context, or ErrNoTenant.
func ID(ctx context.Context) (string, error) {
	p, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return p.TenantID, nil
}

// MustID panics when the tenant is missing. Use only where middleware or the
// job runner guarantees a principal.
func MustID(ctx context.Context) string {
	id, err := ID(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// Actor returns the acting user id, or "system" when none is set.
func Actor(ctx context.Context) string {
	p, err := FromContext(ctx)
	if err != nil || p.ActorID == "" {
		return "system"
	}
	return p.ActorID
}
