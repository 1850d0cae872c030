package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerRejectsUnauthenticatedRequest(t *testing.T) {
	h := testDeps(t)
	srv := New(ServerConfig{
		Handlers:      h,
		Authenticator: testAuthenticatorForServer(t),
		Admission:     NewAdmission(4, 4),
		Logger:        h.logger,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve?tenant_id=t1", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerAllowsHealthWithoutAuth(t *testing.T) {
	h := testDeps(t)
	srv := New(ServerConfig{
		Handlers:      h,
		Authenticator: testAuthenticatorForServer(t),
		Admission:     NewAdmission(4, 4),
		Logger:        h.logger,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerAuthenticatesWithAPIKey(t *testing.T) {
	h := testDeps(t)
	srv := New(ServerConfig{
		Handlers:      h,
		Authenticator: testAuthenticatorForServer(t),
		Admission:     NewAdmission(4, 4),
		Logger:        h.logger,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve?tenant_id=t1&top_k=5", nil)
	req.Header.Set("X-API-Key", "secret-one")
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
