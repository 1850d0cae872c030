package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/ctxutil"
)

func TestAuthorizeWildcardServicePolicy(t *testing.T) {
	policy := Policy{AllowedTenants: []string{"*"}}
	principal := ctxutil.Principal{Subject: "k1", TenantScopes: []string{"tenant-a"}}
	require.NoError(t, Authorize(policy, principal, "tenant-a"))
}

func TestAuthorizeDeniesOutsideServiceAllowlist(t *testing.T) {
	policy := Policy{AllowedTenants: []string{"tenant-a"}}
	principal := ctxutil.Principal{Subject: "k1"}
	err := Authorize(policy, principal, "tenant-b")
	require.ErrorIs(t, err, ErrDenied)
}

func TestAuthorizeDeniesOutsidePrincipalScope(t *testing.T) {
	policy := Policy{AllowedTenants: []string{"*"}}
	principal := ctxutil.Principal{Subject: "k1", TenantScopes: []string{"tenant-a"}}
	err := Authorize(policy, principal, "tenant-b")
	require.ErrorIs(t, err, ErrDenied)
}

func TestAuthorizeEmptyPrincipalScopeIsUnrestrictedWithinAllowlist(t *testing.T) {
	policy := Policy{AllowedTenants: []string{"tenant-a", "tenant-b"}}
	principal := ctxutil.Principal{Subject: "service-key"}
	require.NoError(t, Authorize(policy, principal, "tenant-b"))
}

func TestAuthorizeRejectsEmptyTenantID(t *testing.T) {
	policy := Policy{AllowedTenants: []string{"*"}}
	err := Authorize(policy, ctxutil.Principal{}, "")
	require.Error(t, err)
}
