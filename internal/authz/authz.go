// Package authz enforces tenant scope once a principal has been
// authenticated by internal/auth. A request may name a tenant id that its
// principal is not permitted to act on even with valid credentials; that
// is a denied (403) outcome, distinct from an unauthenticated (401) one.
//
// The allowlist-intersected-with-key-scope shape is grounded on the
// teacher's internal/authz/authz.go CanAccessAgent check, adapted from
// per-agent org membership to per-request tenant scope.
package authz

import (
	"fmt"
	"slices"

	"github.com/dashdb/dash/internal/ctxutil"
)

// ErrDenied is returned when an authenticated principal's tenant scope
// does not include the requested tenant.
var ErrDenied = fmt.Errorf("authz: tenant not in scope")

// Policy is the service-level tenant allowlist (config's auth.allowed_tenants).
// A single "*" entry permits every tenant the service is willing to serve
// at all; it does not bypass a principal's own narrower scope.
type Policy struct {
	AllowedTenants []string
}

func (p Policy) serviceAllows(tenantID string) bool {
	if len(p.AllowedTenants) == 0 {
		return false
	}
	if slices.Contains(p.AllowedTenants, "*") {
		return true
	}
	return slices.Contains(p.AllowedTenants, tenantID)
}

// principalAllows reports whether p's own tenant scope admits tenantID.
// An empty scope list is treated as unrestricted within the service
// allowlist (used by operator/service keys that aren't tenant-bound).
func principalAllows(p ctxutil.Principal, tenantID string) bool {
	if len(p.TenantScopes) == 0 {
		return true
	}
	if slices.Contains(p.TenantScopes, "*") {
		return true
	}
	return slices.Contains(p.TenantScopes, tenantID)
}

// Authorize checks that principal may act on tenantID under policy: the
// service allowlist and the principal's own scope must both admit it.
func Authorize(policy Policy, principal ctxutil.Principal, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("authz: empty tenant id")
	}
	if !policy.serviceAllows(tenantID) {
		return ErrDenied
	}
	if !principalAllows(principal, tenantID) {
		return ErrDenied
	}
	return nil
}
