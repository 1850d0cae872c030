package server

import (
	"fmt"
	"net/http"

	"github.com/dashdb/dash/internal/model"
)

// claimResponse bundles a claim with its evidence and outgoing/incoming
// edges, the natural unit of a by-id lookup.
type claimResponse struct {
	Claim      model.Claim       `json:"claim"`
	Evidence   []model.Evidence  `json:"evidence,omitempty"`
	EdgesFrom  []model.ClaimEdge `json:"edges_from,omitempty"`
	EdgesTo    []model.ClaimEdge `json:"edges_to,omitempty"`
}

// HandleGetClaim serves GET /v1/claims/{id}. tenant_id is required as a
// query parameter since claim ids are not globally routable without it.
func (h *Handlers) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := r.PathValue("id")
	if claimID == "" {
		writeModelError(w, r, fmt.Errorf("%w: missing claim id", model.ErrInvalidRequest))
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if !h.requireTenantScopeHandler(w, r, tenantID) {
		return
	}

	claim, ok := h.store.GetClaim(tenantID, claimID)
	if !ok {
		writeModelError(w, r, fmt.Errorf("%w: claim %q", model.ErrNotFound, claimID))
		return
	}

	resp := claimResponse{
		Claim:     claim,
		Evidence:  h.store.Evidence(tenantID, claimID),
		EdgesFrom: h.store.EdgesFrom(tenantID, claimID),
		EdgesTo:   h.store.EdgesTo(tenantID, claimID),
	}
	writeJSON(w, r, http.StatusOK, resp)
}
