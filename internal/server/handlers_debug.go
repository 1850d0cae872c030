package server

import (
	"net/http"

	"github.com/dashdb/dash/internal/boundary"
)

type placementDebugResponse struct {
	Shards  interface{}          `json:"shards"`
	Reloads interface{}          `json:"reloads"`
}

// HandleDebugPlacement serves GET /debug/placement: per-shard role/epoch/
// health plus the reload loop's own attempt/success/failure counters.
func (h *Handlers) HandleDebugPlacement(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		writeJSON(w, r, http.StatusOK, placementDebugResponse{Shards: []struct{}{}, Reloads: nil})
		return
	}
	writeJSON(w, r, http.StatusOK, placementDebugResponse{
		Shards:  h.router.Snapshots(),
		Reloads: h.router.ReloadCounters(),
	})
}

// HandleDebugPlanner serves GET /debug/planner: cumulative per-stage
// candidate counts (admission, prefilter, candidate generation, ranking,
// stance filtering, graph expansion).
func (h *Handlers) HandleDebugPlanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.planner.Counters())
}

type storageVisibilityEntry struct {
	TenantID          string            `json:"tenant_id"`
	BoundaryState     boundary.State    `json:"boundary_state"`
	BoundaryCounters  boundary.Counters `json:"boundary_counters"`
	StoreClaimCount   int               `json:"store_claim_count"`
}

// HandleDebugStorageVisibility serves GET /debug/storage-visibility:
// segment/WAL merge state per tenant, surfacing divergence as a boundary
// fallback rather than a hard failure (spec's route_degraded contract).
func (h *Handlers) HandleDebugStorageVisibility(w http.ResponseWriter, r *http.Request) {
	states := h.boundary.All()
	out := make([]storageVisibilityEntry, 0, len(states))
	for tenantID, state := range states {
		entry := storageVisibilityEntry{
			TenantID:        tenantID,
			BoundaryState:   state,
			StoreClaimCount: len(h.store.EnumerateClaimIDs(tenantID)),
		}
		if tracker := h.boundary.Tracker(tenantID); tracker != nil {
			entry.BoundaryCounters = tracker.Counters()
		}
		out = append(out, entry)
	}
	writeJSON(w, r, http.StatusOK, out)
}
