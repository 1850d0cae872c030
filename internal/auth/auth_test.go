package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testAuthenticator() *Authenticator {
	return New(Config{
		ActiveKeys: []KeyConfig{
			{ID: "k1", Secret: "secret-one", Scopes: []string{"tenant-a"}},
		},
		FallbackKeys: []KeyConfig{
			{ID: "k0", Secret: "secret-zero", Scopes: []string{"*"}},
		},
		RevokedKeys: map[string]bool{"revoked-secret": true},
		JWT: JWTConfig{
			Secrets:       map[string]string{"jk1": "jwt-secret"},
			Issuer:        "dash",
			Audience:      "dash-clients",
			LeewaySeconds: 5,
			RequireExp:    true,
		},
	})
}

func TestAuthenticateSharedKeyViaAPIKeyHeader(t *testing.T) {
	a := testAuthenticator()
	p, err := a.Authenticate("secret-one", "")
	require.NoError(t, err)
	require.Equal(t, "shared_key", p.Method)
	require.Equal(t, "k1", p.Subject)
	require.Equal(t, []string{"tenant-a"}, p.TenantScopes)
}

func TestAuthenticateSharedKeyViaBearer(t *testing.T) {
	a := testAuthenticator()
	p, err := a.Authenticate("", "Bearer secret-zero")
	require.NoError(t, err)
	require.Equal(t, "k0", p.Subject)
}

func TestAuthenticateRejectsRevokedKey(t *testing.T) {
	a := testAuthenticator()
	_, err := a.Authenticate("revoked-secret", "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateRejectsUnknownSecret(t *testing.T) {
	a := testAuthenticator()
	_, err := a.Authenticate("not-a-real-key", "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateRejectsMissingCredentials(t *testing.T) {
	a := testAuthenticator()
	_, err := a.Authenticate("", "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueScopedTokenRoundTripsThroughAuthenticate(t *testing.T) {
	a := testAuthenticator()
	token, exp, err := a.IssueScopedToken("jk1", "admin-1", "debug-tool", []string{"tenant-a"}, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	p, err := a.Authenticate("", "Bearer "+token)
	require.NoError(t, err)
	require.Equal(t, "jwt", p.Method)
	require.Equal(t, "debug-tool", p.Subject)
	require.Equal(t, []string{"tenant-a"}, p.TenantScopes)
}

func TestIssueScopedTokenCapsTTL(t *testing.T) {
	a := testAuthenticator()
	_, exp, err := a.IssueScopedToken("jk1", "admin-1", "debug-tool", nil, 100*time.Hour)
	require.NoError(t, err)
	require.True(t, exp.Before(time.Now().Add(MaxScopedTokenTTL+time.Minute)))
}

func TestIssueScopedTokenUnknownKeyID(t *testing.T) {
	a := testAuthenticator()
	_, _, err := a.IssueScopedToken("missing-kid", "admin-1", "debug-tool", nil, time.Minute)
	require.Error(t, err)
}
