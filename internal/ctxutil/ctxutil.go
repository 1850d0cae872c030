// Package ctxutil provides shared request-scoped context accessors used by
// the transport and planner layers: request id, the authenticated
// principal, and the tenant id resolved for the current request.
package ctxutil

import "context"

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyPrincipal contextKey = "principal"
	keyTenantID  contextKey = "tenant_id"
)

// Principal is the minimal shape ctxutil needs from internal/auth.
// Defined here (rather than imported) so ctxutil has no dependency on
// auth, and auth/server/planner can all depend on ctxutil without cycles.
type Principal struct {
	Subject string
	Method  string // "shared_key" | "jwt"
	KeyID   string
	TenantScopes []string
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request id, or "" if unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(Principal)
	return p, ok
}

// WithTenantID returns a context carrying the tenant id resolved for this
// request (the tenant_id the request body/query named, post-scope-check).
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts the resolved tenant id, or "" if unset.
func TenantID(ctx context.Context) string {
	if v, ok := ctx.Value(keyTenantID).(string); ok {
		return v
	}
	return ""
}
