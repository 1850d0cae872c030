package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/model"
)

func newClaimRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.SetPathValue("id", extractIDFromTarget(target))
	return withPrincipal(req)
}

// extractIDFromTarget pulls the {id} path segment for tests that build a
// raw *http.Request instead of going through the mux's own pattern match.
func extractIDFromTarget(target string) string {
	const prefix = "/v1/claims/"
	if len(target) <= len(prefix) || target[:len(prefix)] != prefix {
		return ""
	}
	rest := target[len(prefix):]
	for i, c := range rest {
		if c == '?' {
			return rest[:i]
		}
	}
	return rest
}

func TestHandleGetClaimFound(t *testing.T) {
	h := testDeps(t)
	require.NoError(t, h.appendAndIngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", CanonicalText: "claim one", Confidence: 0.5,
	}))

	req := newClaimRequest(http.MethodGet, "/v1/claims/c1?tenant_id=t1")
	rec := httptest.NewRecorder()
	h.HandleGetClaim(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
}

func TestHandleGetClaimNotFound(t *testing.T) {
	h := testDeps(t)
	req := newClaimRequest(http.MethodGet, "/v1/claims/missing?tenant_id=t1")
	rec := httptest.NewRecorder()
	h.HandleGetClaim(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetClaimMissingID(t *testing.T) {
	h := testDeps(t)
	req := newClaimRequest(http.MethodGet, "/v1/claims/?tenant_id=t1")
	rec := httptest.NewRecorder()
	h.HandleGetClaim(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
