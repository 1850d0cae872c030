package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/ctxutil"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/router"
)

func withPrincipal(req *http.Request) *http.Request {
	ctx := ctxutil.WithPrincipal(req.Context(), ctxutil.Principal{Subject: "tester"})
	return req.WithContext(ctx)
}

func postJSON(t *testing.T, h *Handlers, fn http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf)))
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestHandleIngestStoresClaim(t *testing.T) {
	h := testDeps(t)
	rec := postJSON(t, h, h.HandleIngest, "/v1/ingest", model.IngestRequest{
		Claim: model.Claim{ClaimID: "c1", TenantID: "t1", CanonicalText: "revenue grew", Confidence: 0.8},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	claim, ok := h.store.GetClaim("t1", "c1")
	require.True(t, ok)
	require.Equal(t, "revenue grew", claim.CanonicalText)
	require.NotZero(t, claim.WALSeq)
}

func writePlacementFile(t *testing.T, entries []router.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "placement.json")
	body, err := json.Marshal(router.Table{Entries: entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func TestHandleIngestDeniedWhenNotLocalLeader(t *testing.T) {
	h := testDeps(t)
	placementFile := writePlacementFile(t, []router.Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "remote-node", Role: router.RoleLeader, Health: "healthy"},
	})
	r, err := router.New(slog.Default(), router.Config{PlacementFile: placementFile, LocalNodeID: "this-node"})
	require.NoError(t, err)
	h.router = r

	rec := postJSON(t, h, h.HandleIngest, "/v1/ingest", model.IngestRequest{
		Claim: model.Claim{ClaimID: "c1", TenantID: "t1", CanonicalText: "revenue grew", Confidence: 0.8},
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, ok := h.store.GetClaim("t1", "c1")
	require.False(t, ok)
}

func TestHandleIngestAllowedWhenLocalLeader(t *testing.T) {
	h := testDeps(t)
	placementFile := writePlacementFile(t, []router.Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "this-node", Role: router.RoleLeader, Health: "healthy"},
	})
	r, err := router.New(slog.Default(), router.Config{PlacementFile: placementFile, LocalNodeID: "this-node"})
	require.NoError(t, err)
	h.router = r

	rec := postJSON(t, h, h.HandleIngest, "/v1/ingest", model.IngestRequest{
		Claim: model.Claim{ClaimID: "c1", TenantID: "t1", CanonicalText: "revenue grew", Confidence: 0.8},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleIngestRejectsInvalidClaim(t *testing.T) {
	h := testDeps(t)
	rec := postJSON(t, h, h.HandleIngest, "/v1/ingest", model.IngestRequest{
		Claim: model.Claim{ClaimID: "c1", TenantID: "t1", Confidence: 2.0},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestBatchAtomicRollbackOnInvalidRecord(t *testing.T) {
	h := testDeps(t)
	rec := postJSON(t, h, h.HandleIngestBatch, "/v1/ingest/batch", model.IngestBatchRequest{
		CommitID: "batch-1",
		Claims: []model.Claim{
			{ClaimID: "c1", TenantID: "t1", CanonicalText: "claim one", Confidence: 0.5},
			{ClaimID: "c2", TenantID: "t1", CanonicalText: "claim two", Confidence: 0.5},
		},
		Evidence: []model.Evidence{
			{EvidenceID: "e1", TenantID: "t1", ClaimID: "does-not-exist", SourceID: "s1", SpanStart: 0, SpanEnd: 3, Stance: model.StanceSupports, SourceQuality: 0.5},
		},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, ok := h.store.GetClaim("t1", "c1")
	require.False(t, ok, "batch validation failure must leave the store untouched")
	_, committed := h.store.CommitStatus("batch-1")
	require.False(t, committed)
}

func TestHandleIngestBatchIsIdempotentOnRetry(t *testing.T) {
	h := testDeps(t)
	batch := model.IngestBatchRequest{
		CommitID: "batch-2",
		Claims:   []model.Claim{{ClaimID: "c1", TenantID: "t1", CanonicalText: "claim one", Confidence: 0.5}},
	}
	rec1 := postJSON(t, h, h.HandleIngestBatch, "/v1/ingest/batch", batch)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := postJSON(t, h, h.HandleIngestBatch, "/v1/ingest/batch", batch)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleIngestBatchRejectsConflictingRetry(t *testing.T) {
	h := testDeps(t)
	first := model.IngestBatchRequest{
		CommitID: "batch-3",
		Claims:   []model.Claim{{ClaimID: "c1", TenantID: "t1", CanonicalText: "claim one", Confidence: 0.5}},
	}
	rec1 := postJSON(t, h, h.HandleIngestBatch, "/v1/ingest/batch", first)
	require.Equal(t, http.StatusOK, rec1.Code)

	second := first
	second.Claims = []model.Claim{{ClaimID: "c2", TenantID: "t1", CanonicalText: "different", Confidence: 0.5}}
	rec2 := postJSON(t, h, h.HandleIngestBatch, "/v1/ingest/batch", second)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleIngestRawExtractsClaims(t *testing.T) {
	h := testDeps(t)
	rec := postJSON(t, h, h.HandleIngestRaw, "/v1/ingest/raw", model.IngestRawRequest{
		TenantID: "t1",
		SourceID: "doc-1",
		Text:     "Revenue grew sharply. Costs stayed flat.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	ids := h.store.EnumerateClaimIDs("t1")
	require.Len(t, ids, 2)
}
