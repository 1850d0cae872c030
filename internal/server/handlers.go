package server

import (
	"log/slog"
	"net/http"

	"github.com/dashdb/dash/internal/ann"
	"github.com/dashdb/dash/internal/authz"
	"github.com/dashdb/dash/internal/boundary"
	"github.com/dashdb/dash/internal/ctxutil"
	"github.com/dashdb/dash/internal/extract"
	"github.com/dashdb/dash/internal/lexical"
	"github.com/dashdb/dash/internal/mirror"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/planner"
	"github.com/dashdb/dash/internal/router"
	"github.com/dashdb/dash/internal/snapshot"
	"github.com/dashdb/dash/internal/store"
	"github.com/dashdb/dash/internal/wal"
)

// HandlersDeps wires every dependency a handler may need. Optional fields
// (nil-safe): Router, Mirror, Audit, Admission, Checkpoint. WAL is required
// by the ingest and replication handlers.
type HandlersDeps struct {
	Store       *store.Store
	Planner     *planner.Planner
	ANN         *ann.Manager
	Lexical     *lexical.Manager
	Boundary    *boundary.Manager
	Router      *router.Router
	Mirror      *mirror.Mirror
	Extractors  extract.Registry
	AuthzPolicy authz.Policy
	Audit       *AuditLog
	Admission   *Admission
	WAL         *wal.WAL
	Checkpoint  *snapshot.Trigger
	Logger      *slog.Logger
	Version     string

	MaxRequestBodyBytes int64
}

// Handlers implements every §6.1 route. Methods are grouped by concern
// across handlers_ingest.go, handlers_retrieve.go, handlers_claims.go,
// handlers_debug.go, and handlers_replication.go.
type Handlers struct {
	store       *store.Store
	planner     *planner.Planner
	ann         *ann.Manager
	lexical     *lexical.Manager
	boundary    *boundary.Manager
	router      *router.Router
	mirror      *mirror.Mirror
	extractors  extract.Registry
	authzPolicy authz.Policy
	audit       *AuditLog
	admission   *Admission
	wal         *wal.WAL
	checkpoint  *snapshot.Trigger
	logger      *slog.Logger
	version     string

	maxRequestBodyBytes int64
}

const defaultMaxRequestBodyBytes = 4 << 20 // 4 MiB

// NewHandlers constructs a Handlers from deps, applying defaults for unset
// optional fields.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBytes := deps.MaxRequestBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodyBytes
	}
	extractors := deps.Extractors
	if extractors == nil {
		extractors = extract.DefaultRegistry()
	}
	return &Handlers{
		store:               deps.Store,
		planner:             deps.Planner,
		ann:                 deps.ANN,
		lexical:             deps.Lexical,
		boundary:            deps.Boundary,
		router:              deps.Router,
		mirror:              deps.Mirror,
		extractors:          extractors,
		authzPolicy:         deps.AuthzPolicy,
		audit:               deps.Audit,
		admission:           deps.Admission,
		wal:                 deps.WAL,
		checkpoint:          deps.Checkpoint,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: maxBytes,
	}
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{Status: "ok"})
}

// requireTenantScopeHandler enforces authz.Authorize against the resolved
// principal and tenantID, writing a response and returning false if denied.
func (h *Handlers) requireTenantScopeHandler(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if tenantID == "" {
		writeModelError(w, r, model.ErrInvalidRequest)
		return false
	}
	principal, _ := ctxutil.PrincipalFromContext(r.Context())
	if err := authz.Authorize(h.authzPolicy, principal, tenantID); err != nil {
		h.auditAppend(principal.Subject, r.Method+" "+r.URL.Path, tenantID, "denied")
		writeModelError(w, r, err)
		return false
	}
	return true
}

func (h *Handlers) auditAppend(actor, action, tenantID, outcome string) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Append(actor, action, tenantID, outcome); err != nil {
		h.logger.Warn("server: audit append failed", "error", err)
	}
}
