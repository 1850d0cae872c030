// Package auth implements the DASH transport authentication scheme (C9,
// spec §4.8): shared-key auth via "X-API-Key" or a raw bearer token, and
// bearer JWT auth verified with HS256. Key rotation is active+fallback key
// sets with an explicit hard-deny revocation list that wins over both.
//
// The Ed25519 JWTManager shape and constant-time credential comparison
// discipline are grounded on the teacher's internal/auth/auth.go; swapped
// to HS256 and shared-key verification per spec §4.8's explicit contract.
package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dashdb/dash/internal/ctxutil"
)

// MaxScopedTokenTTL bounds admin-issued scoped tokens (DESIGN.md
// supplemented feature) regardless of the caller-requested TTL.
const MaxScopedTokenTTL = time.Hour

// KeyConfig describes one configured shared key: its id (used for
// auth.api_key_scopes and rotation bookkeeping) and secret value.
type KeyConfig struct {
	ID     string
	Secret string
	Scopes []string // tenant ids this key may act on; ["*"] = unrestricted
}

// JWTConfig is the HS256 bearer-JWT verification policy (spec §4.8).
type JWTConfig struct {
	Secrets       map[string]string // key id (kid claim) -> HMAC secret; "" kid maps to the zero-value entry if present
	Issuer        string
	Audience      string
	LeewaySeconds int
	RequireExp    bool
}

// Config is the full auth.* configuration surface (spec §6.4).
type Config struct {
	ActiveKeys   []KeyConfig
	FallbackKeys []KeyConfig
	RevokedKeys  map[string]bool // raw secret value -> revoked, hard-denies regardless of which set it appears in
	JWT          JWTConfig
}

// Authenticator verifies inbound credentials against Config and returns the
// resulting principal. It performs no tenant-scope or service-allowlist
// enforcement — that is internal/authz's job once a principal is known.
type Authenticator struct {
	cfg       Config
	byKeyID   map[string]KeyConfig // active ∪ fallback, keyed by id, for revocation/rotation bookkeeping
	bySecret  map[string]KeyConfig
}

// New builds an Authenticator from cfg.
func New(cfg Config) *Authenticator {
	a := &Authenticator{
		cfg:      cfg,
		byKeyID:  make(map[string]KeyConfig),
		bySecret: make(map[string]KeyConfig),
	}
	for _, k := range cfg.ActiveKeys {
		a.byKeyID[k.ID] = k
		a.bySecret[k.Secret] = k
	}
	for _, k := range cfg.FallbackKeys {
		if _, exists := a.byKeyID[k.ID]; !exists {
			a.byKeyID[k.ID] = k
		}
		if _, exists := a.bySecret[k.Secret]; !exists {
			a.bySecret[k.Secret] = k
		}
	}
	return a
}

// ErrUnauthenticated is returned for any missing, malformed, expired, or
// revoked credential. Callers map this to the taxonomy's unauthenticated
// kind; it is deliberately generic so a probing client cannot distinguish
// "no such key" from "expired token" from "revoked key".
var ErrUnauthenticated = fmt.Errorf("auth: unauthenticated")

// Authenticate inspects r's Authorization / X-API-Key headers and returns
// the resulting principal. Exactly one of the two schemes is attempted:
// a structurally JWT-shaped bearer value (two dots) is verified as HS256;
// anything else presented as a bearer token, or any X-API-Key value, is
// verified as a shared key.
func (a *Authenticator) Authenticate(apiKeyHeader, authorizationHeader string) (ctxutil.Principal, error) {
	if apiKeyHeader != "" {
		return a.authenticateSharedKey(apiKeyHeader)
	}

	if authorizationHeader == "" {
		return ctxutil.Principal{}, ErrUnauthenticated
	}
	scheme, credential, ok := strings.Cut(authorizationHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
		return ctxutil.Principal{}, ErrUnauthenticated
	}

	if looksLikeJWT(credential) {
		return a.authenticateJWT(credential)
	}
	return a.authenticateSharedKey(credential)
}

func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

func (a *Authenticator) authenticateSharedKey(raw string) (ctxutil.Principal, error) {
	if a.cfg.RevokedKeys[raw] {
		return ctxutil.Principal{}, ErrUnauthenticated
	}
	for secret, k := range a.bySecret {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(raw)) == 1 {
			return ctxutil.Principal{
				Subject:      k.ID,
				Method:       "shared_key",
				KeyID:        k.ID,
				TenantScopes: k.Scopes,
			}, nil
		}
	}
	return ctxutil.Principal{}, ErrUnauthenticated
}

// claims extends jwt.RegisteredClaims with DASH's tenant-scope and
// scoped-token attribution fields.
type claims struct {
	jwt.RegisteredClaims
	TenantScopes []string `json:"tenant_scopes,omitempty"`
	ScopedBy     string   `json:"scoped_by,omitempty"`
}

func (a *Authenticator) authenticateJWT(tokenStr string) (ctxutil.Principal, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithIssuer(a.cfg.JWT.Issuer),
		jwt.WithAudience(a.cfg.JWT.Audience),
		jwt.WithLeeway(time.Duration(a.cfg.JWT.LeewaySeconds) * time.Second),
	}
	if a.cfg.JWT.RequireExp {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		secret, ok := a.cfg.JWT.Secrets[kid]
		if !ok {
			return nil, fmt.Errorf("auth: unknown key id %q", kid)
		}
		return []byte(secret), nil
	}, parserOpts...)
	if err != nil {
		return ctxutil.Principal{}, ErrUnauthenticated
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return ctxutil.Principal{}, ErrUnauthenticated
	}
	if a.cfg.RevokedKeys[tokenStr] {
		return ctxutil.Principal{}, ErrUnauthenticated
	}
	return ctxutil.Principal{
		Subject:      c.Subject,
		Method:       "jwt",
		TenantScopes: c.TenantScopes,
	}, nil
}

// IssueScopedToken mints a short-lived HS256 token acting as subject,
// scoped to tenantScopes, carrying issuingAdminSubject in the scoped_by
// claim for audit attribution. Used for operational tooling (debug
// endpoints, replication pull) per DESIGN.md's supplemented feature. TTL
// is capped at MaxScopedTokenTTL regardless of the requested value.
func (a *Authenticator) IssueScopedToken(signingKeyID, issuingAdminSubject, subject string, tenantScopes []string, ttl time.Duration) (string, time.Time, error) {
	secret, ok := a.cfg.JWT.Secrets[signingKeyID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: unknown signing key id %q", signingKeyID)
	}
	if ttl <= 0 || ttl > MaxScopedTokenTTL {
		ttl = MaxScopedTokenTTL
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.cfg.JWT.Issuer,
			Audience:  jwt.ClaimStrings{a.cfg.JWT.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		TenantScopes: tenantScopes,
		ScopedBy:     issuingAdminSubject,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	token.Header["kid"] = signingKeyID
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign scoped token: %w", err)
	}
	return signed, exp, nil
}
