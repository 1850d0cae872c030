package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dashdb/dash/internal/ctxutil"
	"github.com/dashdb/dash/internal/integrity"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/wal"
)

// admitWrite enforces placement-aware write admission (spec §6.2 Stage 1):
// a shard's healthy leader is the only node permitted to append for it. A
// nil router (single-node deployments with no placement file) always
// admits, matching internal/planner's admitRead nil-safety.
func (h *Handlers) admitWrite(tenantID string) error {
	if h.router == nil {
		return nil
	}
	if err := h.router.AdmitWrite(tenantID, tenantID); err != nil {
		return fmt.Errorf("server: admit write: %w: %w", model.ErrRouteUnavailable, err)
	}
	return nil
}

// HandleIngest serves POST /v1/ingest: one claim bundle (claim + optional
// evidence + optional edges), durable via WAL append before any in-memory
// mutation (spec §7 propagation policy: a failed append never mutates
// store state).
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeModelError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
		return
	}
	if !h.requireTenantScopeHandler(w, r, req.Claim.TenantID) {
		return
	}
	if err := h.admitWrite(req.Claim.TenantID); err != nil {
		writeModelError(w, r, err)
		return
	}

	if err := h.appendAndIngestClaim(req.Claim); err != nil {
		writeModelError(w, r, err)
		return
	}
	resp := model.IngestResponse{ClaimIDs: []string{req.Claim.ClaimID}}

	for _, e := range req.Evidence {
		if err := h.appendAndIngestEvidence(e); err != nil {
			writeModelError(w, r, err)
			return
		}
		resp.EvidenceIDs = append(resp.EvidenceIDs, e.EvidenceID)
	}
	for _, e := range req.Edges {
		if err := h.appendAndIngestEdge(e); err != nil {
			writeModelError(w, r, err)
			return
		}
		resp.EdgeIDs = append(resp.EdgeIDs, e.EdgeID)
	}

	h.indexForRetrieval(req.Claim)
	h.mirrorExport(r.Context(), req.Claim)
	h.auditAppend(h.principalSubject(r), "ingest", req.Claim.TenantID, "success")
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleIngestBatch serves POST /v1/ingest/batch: atomic-per-commit_id
// multi-record ingest (S6). Every record is validated against both the
// existing store state and the rest of the batch before any WAL append, so
// a validation failure anywhere in the batch leaves the WAL and store
// byte-for-byte unchanged (testable property 2, scenario S6).
func (h *Handlers) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req model.IngestBatchRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeModelError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
		return
	}
	if req.CommitID == "" {
		writeModelError(w, r, fmt.Errorf("%w: commit_id is required", model.ErrInvalidRequest))
		return
	}

	tenantID := batchTenantID(req)
	if !h.requireTenantScopeHandler(w, r, tenantID) {
		return
	}
	if err := h.admitWrite(tenantID); err != nil {
		writeModelError(w, r, err)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash batch payload", err)
		return
	}
	hash := integrity.ContentHash(string(payload))

	if existingHash, committed := h.store.CommitStatus(req.CommitID); committed {
		if existingHash != hash {
			writeModelError(w, r, fmt.Errorf("%w: commit_id %q already used with a different payload", model.ErrConflict, req.CommitID))
			return
		}
		// Idempotent replay: the exact same payload under this commit_id has
		// already been durably applied.
		writeJSON(w, r, http.StatusOK, model.IngestResponse{
			ClaimIDs:    claimIDsOf(req.Claims),
			EvidenceIDs: evidenceIDsOf(req.Evidence),
			EdgeIDs:     edgeIDsOf(req.Edges),
		})
		return
	}

	if err := h.validateBatch(req); err != nil {
		writeModelError(w, r, err)
		return
	}

	for _, c := range req.Claims {
		if err := h.appendAndIngestClaim(c); err != nil {
			writeModelError(w, r, err)
			return
		}
	}
	for _, e := range req.Evidence {
		if err := h.appendAndIngestEvidence(e); err != nil {
			writeModelError(w, r, err)
			return
		}
	}
	for _, e := range req.Edges {
		if err := h.appendAndIngestEdge(e); err != nil {
			writeModelError(w, r, err)
			return
		}
	}

	if _, err := h.wal.Append(wal.KindBatchCommit, batchCommitPayload(req, hash)); err != nil {
		h.writeInternalError(w, r, "failed to append batch commit record", err)
		return
	}
	h.store.RecordCommit(req.CommitID, hash)

	for _, c := range req.Claims {
		h.indexForRetrieval(c)
		h.mirrorExport(r.Context(), c)
	}
	h.auditAppend(h.principalSubject(r), "ingest_batch", tenantID, "success")

	writeJSON(w, r, http.StatusOK, model.IngestResponse{
		ClaimIDs:    claimIDsOf(req.Claims),
		EvidenceIDs: evidenceIDsOf(req.Evidence),
		EdgeIDs:     edgeIDsOf(req.Edges),
	})
}

// HandleIngestRaw serves POST /v1/ingest/raw: bootstrap via the pluggable
// extractor contract (spec §9).
func (h *Handlers) HandleIngestRaw(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRawRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeModelError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
		return
	}
	if !h.requireTenantScopeHandler(w, r, req.TenantID) {
		return
	}
	if err := h.admitWrite(req.TenantID); err != nil {
		writeModelError(w, r, err)
		return
	}

	extractor, ok := h.extractors.Get(req.Extractor)
	if !ok {
		writeModelError(w, r, fmt.Errorf("%w: unknown extractor %q", model.ErrInvalidRequest, req.Extractor))
		return
	}
	drafts, spans, err := extractor.Extract(req.Text)
	if err != nil {
		writeModelError(w, r, err)
		return
	}

	resp := model.IngestResponse{}
	now := time.Now().Unix()
	for _, d := range drafts {
		c := model.Claim{
			ClaimID:       d.ClaimID,
			TenantID:      req.TenantID,
			CanonicalText: d.CanonicalText,
			Confidence:    d.Confidence,
			CreatedAtUnix: now,
		}
		if err := h.appendAndIngestClaim(c); err != nil {
			writeModelError(w, r, err)
			return
		}
		resp.ClaimIDs = append(resp.ClaimIDs, c.ClaimID)
		h.indexForRetrieval(c)
		h.mirrorExport(r.Context(), c)
	}
	for i, s := range spans {
		e := model.Evidence{
			EvidenceID:    fmt.Sprintf("%s-ev%d", req.SourceID, i),
			TenantID:      req.TenantID,
			ClaimID:       drafts[s.ClaimIndex].ClaimID,
			SourceID:      req.SourceID,
			SpanStart:     s.SpanStart,
			SpanEnd:       s.SpanEnd,
			Stance:        s.Stance,
			SourceQuality: s.SourceQuality,
			IngestedAt:    now,
		}
		if err := h.appendAndIngestEvidence(e); err != nil {
			writeModelError(w, r, err)
			return
		}
		resp.EvidenceIDs = append(resp.EvidenceIDs, e.EvidenceID)
	}

	h.auditAppend(h.principalSubject(r), "ingest_raw", req.TenantID, "success")
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handlers) appendAndIngestClaim(c model.Claim) error {
	seq, err := h.wal.Append(wal.KindClaim, c)
	if err != nil {
		return fmt.Errorf("%w: wal append claim: %v", model.ErrInternal, err)
	}
	h.recordCheckpointProgress()
	c.WALSeq = seq
	return h.store.IngestClaim(c)
}

func (h *Handlers) appendAndIngestEvidence(e model.Evidence) error {
	if _, err := h.wal.Append(wal.KindEvidence, e); err != nil {
		return fmt.Errorf("%w: wal append evidence: %v", model.ErrInternal, err)
	}
	h.recordCheckpointProgress()
	return h.store.IngestEvidence(e)
}

func (h *Handlers) appendAndIngestEdge(e model.ClaimEdge) error {
	if _, err := h.wal.Append(wal.KindClaimEdge, e); err != nil {
		return fmt.Errorf("%w: wal append edge: %v", model.ErrInternal, err)
	}
	h.recordCheckpointProgress()
	return h.store.IngestEdge(e)
}

// recordCheckpointProgress feeds the checkpoint trigger's record counter.
// Byte-threshold tracking is left at zero here (the caller already knows
// record counts, not serialized sizes); MaxWALRecords is this build's
// operative checkpoint trigger.
func (h *Handlers) recordCheckpointProgress() {
	if h.checkpoint != nil {
		h.checkpoint.RecordAppend(0)
	}
}

// indexForRetrieval backfills the ANN and lexical indexes for a freshly
// ingested claim, keeping C6/C7's candidate generation in sync with C4's
// store without requiring a planner round-trip.
func (h *Handlers) indexForRetrieval(c model.Claim) {
	if h.ann != nil && len(c.Embedding) > 0 {
		if err := h.ann.Upsert(c.TenantID, c.ClaimID, c.Embedding); err != nil {
			h.logger.Warn("server: ann upsert failed", "error", err, "claim_id", c.ClaimID)
		}
	}
	if h.lexical != nil {
		if err := h.lexical.Upsert(c.TenantID, c.ClaimID, c.CanonicalText); err != nil {
			h.logger.Warn("server: lexical upsert failed", "error", err, "claim_id", c.ClaimID)
		}
	}
}

// mirrorExport fans a claim out to the optional durable mirror. A failure
// never fails the originating ingest (internal/mirror's own contract).
func (h *Handlers) mirrorExport(ctx context.Context, c model.Claim) {
	if h.mirror == nil {
		return
	}
	if err := h.mirror.ExportClaim(ctx, c); err != nil {
		h.logger.Warn("server: mirror export failed", "error", err, "claim_id", c.ClaimID)
	}
}

func (h *Handlers) principalSubject(r *http.Request) string {
	if p, ok := ctxutil.PrincipalFromContext(r.Context()); ok {
		return p.Subject
	}
	return ""
}

func batchTenantID(req model.IngestBatchRequest) string {
	if len(req.Claims) > 0 {
		return req.Claims[0].TenantID
	}
	if len(req.Evidence) > 0 {
		return req.Evidence[0].TenantID
	}
	if len(req.Edges) > 0 {
		return req.Edges[0].TenantID
	}
	return ""
}

// validateBatch structurally validates every record and checks that every
// evidence/edge reference resolves either to an existing store claim, a
// claim already durable before this batch, or a claim earlier in the same
// batch, without mutating anything. This is what makes S6 (a mid-batch
// dimension violation) leave the WAL and store untouched: every check
// below runs before the first WAL append.
func (h *Handlers) validateBatch(req model.IngestBatchRequest) error {
	seen := make(map[string]bool, len(req.Claims))
	dims := make(map[string]int, 1)
	claimExists := func(tenantID, claimID string) bool {
		if seen[claimID] {
			return true
		}
		_, ok := h.store.GetClaim(tenantID, claimID)
		return ok
	}

	for _, c := range req.Claims {
		if err := model.ValidateClaim(c); err != nil {
			return err
		}
		if len(c.Embedding) > 0 {
			dim, ok := dims[c.TenantID]
			if !ok {
				dim, ok = h.store.TenantEmbeddingDim(c.TenantID)
			}
			if ok && dim != len(c.Embedding) {
				return fmt.Errorf("%w: tenant %s embedding dimension mismatch", model.ErrSchemaConflict, c.TenantID)
			}
			dims[c.TenantID] = len(c.Embedding)
		}
		seen[c.ClaimID] = true
	}
	for _, e := range req.Evidence {
		if err := model.ValidateEvidence(e); err != nil {
			return err
		}
		if !claimExists(e.TenantID, e.ClaimID) {
			return fmt.Errorf("%w: evidence references unknown claim %q", model.ErrNotFound, e.ClaimID)
		}
	}
	for _, e := range req.Edges {
		if err := model.ValidateEdge(e); err != nil {
			return err
		}
		if !claimExists(e.TenantID, e.FromClaimID) {
			return fmt.Errorf("%w: edge from_claim_id %q does not exist", model.ErrNotFound, e.FromClaimID)
		}
		if !claimExists(e.TenantID, e.ToClaimID) {
			return fmt.Errorf("%w: edge to_claim_id %q does not exist", model.ErrNotFound, e.ToClaimID)
		}
	}
	return nil
}

func claimIDsOf(cs []model.Claim) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ClaimID)
	}
	return ids
}

func evidenceIDsOf(es []model.Evidence) []string {
	ids := make([]string, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.EvidenceID)
	}
	return ids
}

func edgeIDsOf(es []model.ClaimEdge) []string {
	ids := make([]string, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.EdgeID)
	}
	return ids
}

type batchCommit struct {
	CommitID string `json:"commit_id"`
	Hash     string `json:"hash"`
}

func batchCommitPayload(req model.IngestBatchRequest, hash string) batchCommit {
	return batchCommit{CommitID: req.CommitID, Hash: hash}
}
