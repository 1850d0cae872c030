package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dashdb/dash/internal/model"
)

// HandleRetrieve serves GET|POST /v1/retrieve. GET accepts query parameters
// for simple callers (curl, browsers); POST accepts the full JSON body,
// including query_embedding and time_range which have no compact query
// encoding.
func (h *Handlers) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req model.RetrieveRequest
	switch r.Method {
	case http.MethodGet:
		if err := decodeRetrieveQuery(r, &req); err != nil {
			writeModelError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
			return
		}
	case http.MethodPost:
		if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
			writeModelError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
			return
		}
	default:
		writeError(w, r, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "method not allowed")
		return
	}

	if !h.requireTenantScopeHandler(w, r, req.TenantID) {
		return
	}

	resp, err := h.planner.Plan(r.Context(), req)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	h.auditAppend(h.principalSubject(r), "retrieve", req.TenantID, "success")
	writeJSON(w, r, http.StatusOK, resp)
}

func decodeRetrieveQuery(r *http.Request, req *model.RetrieveRequest) error {
	q := r.URL.Query()
	req.TenantID = q.Get("tenant_id")
	req.QueryText = q.Get("query_text")
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid top_k: %w", err)
		}
		req.TopK = n
	}
	if v := q.Get("entity_filters"); v != "" {
		req.EntityFilters = strings.Split(v, ",")
	}
	if v := q.Get("embedding_id_filters"); v != "" {
		req.EmbeddingIDFilters = strings.Split(v, ",")
	}
	if v := q.Get("stance_mode"); v != "" {
		req.StanceMode = model.StanceMode(v)
	}
	if v := q.Get("read_consistency"); v != "" {
		req.ReadConsistency = model.ReadConsistency(v)
	}
	if v := q.Get("return_graph"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid return_graph: %w", err)
		}
		req.ReturnGraph = b
	}
	if v := q.Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max_depth: %w", err)
		}
		req.MaxDepth = n
	}
	if v := q.Get("node_budget"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid node_budget: %w", err)
		}
		req.NodeBudget = n
	}
	if v := q.Get("time_range"); v != "" {
		var tr model.TimeRange
		if err := json.Unmarshal([]byte(v), &tr); err != nil {
			return fmt.Errorf("invalid time_range: %w", err)
		}
		req.TimeRange = &tr
	}
	if v := q.Get("query_embedding"); v != "" {
		var emb []float32
		if err := json.Unmarshal([]byte(v), &emb); err != nil {
			return fmt.Errorf("invalid query_embedding: %w", err)
		}
		req.QueryEmbedding = emb
	}
	return nil
}
