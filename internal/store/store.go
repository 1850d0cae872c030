// Package store implements the DASH in-memory claim store (C4): per-tenant
// claim/evidence/edge maps, adjacency lists, and the entity/embedding-id/
// temporal indexes the retrieval planner's metadata prefilter intersects.
// CRUD discipline (validate, then mutate under a narrow lock, never leak a
// mutable reference to callers) is grounded on
// internal/storage/claims.go and evidence.go in the teacher, adapted from
// Postgres-backed rows to an in-process map since this layer is in-memory.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/dashdb/dash/internal/model"
)

// Store holds every tenant's claims, evidence, and edges in memory. A single
// Store instance backs the whole process; callers never hold a tenant lock
// across an I/O boundary.
type Store struct {
	logger *slog.Logger

	ownerMu sync.RWMutex
	claimOwner map[string]string // claim_id -> owning tenant_id, enforces global claim_id uniqueness (invariant 1)

	tenantsMu sync.RWMutex
	tenants map[string]*tenantData

	commitsMu sync.RWMutex
	commits map[string]string // commit_id -> payload hash, for batch idempotency
}

// tenantData is one tenant's partition. All indexes are tenant-scoped so a
// lookup can never cross tenants.
type tenantData struct {
	mu sync.RWMutex

	claims map[string]model.Claim
	evidence map[string][]model.Evidence // claim_id -> evidence, append-only
	edgeByID map[string]model.ClaimEdge
	edgesOut map[string][]string // from_claim_id -> edge_id
	edgesIn map[string][]string // to_claim_id -> edge_id

	embeddingDim int // fixed on first vector insert (invariant 4); 0 = unset

	idx *indexes
}

func newTenantData() *tenantData {
	return &tenantData{
		claims: make(map[string]model.Claim),
		evidence: make(map[string][]model.Evidence),
		edgeByID: make(map[string]model.ClaimEdge),
		edgesOut: make(map[string][]string),
		edgesIn: make(map[string][]string),
		idx: newIndexes(),
	}
}

// New constructs an empty Store.
func New(logger *slog.Logger) *Store {
	return &Store{
		logger: logger,
		claimOwner: make(map[string]string),
		tenants: make(map[string]*tenantData),
		commits: make(map[string]string),
	}
}

// CommitStatus reports whether commitID has already been committed, and if
// so, the payload hash it was committed with. Used to implement batch
// idempotency: a replay of the same commit_id+payload is a no-op;
// a different payload under the same commit_id is a conflict.
func (s *Store) CommitStatus(commitID string) (hash string, ok bool) {
	s.commitsMu.RLock()
	defer s.commitsMu.RUnlock()
	h, ok := s.commits[commitID]
	return h, ok
}

// RecordCommit marks commitID as committed with the given payload hash.
// First writer wins (DESIGN.md Open Question #3); callers must have already
// verified CommitStatus before calling this under the same external lock.
func (s *Store) RecordCommit(commitID, hash string) {
	s.commitsMu.Lock()
	defer s.commitsMu.Unlock()
	if _, exists := s.commits[commitID]; !exists {
		s.commits[commitID] = hash
	}
}

func (s *Store) tenant(tenantID string, createIfMissing bool) *tenantData {
	s.tenantsMu.RLock()
	t, ok := s.tenants[tenantID]
	s.tenantsMu.RUnlock()
	if ok || !createIfMissing {
		return t
	}

	s.tenantsMu.Lock()
	defer s.tenantsMu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		return t
	}
	t = newTenantData()
	s.tenants[tenantID] = t
	return t
}

// IngestClaim applies a claim write. Cross-tenant claim_id reuse is rejected
// closed (invariant 1); a same-tenant re-ingest of an existing claim_id is a
// revision and only replaces the record if it is newer (by WALSeq, falling
// back to CreatedAtUnix), matching "confidence/metadata may be
// revised only by a newer record".
func (s *Store) IngestClaim(c model.Claim) error {
	if err := model.ValidateClaim(c); err != nil {
		return err
	}

	s.ownerMu.Lock()
	if owner, exists := s.claimOwner[c.ClaimID]; exists && owner != c.TenantID {
		s.ownerMu.Unlock()
		return fmt.Errorf("%w: claim_id %q already owned by tenant %q", model.ErrConflict, c.ClaimID, owner)
	}
	s.claimOwner[c.ClaimID] = c.TenantID
	s.ownerMu.Unlock()

	t := s.tenant(c.TenantID, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(c.Embedding) > 0 {
		if t.embeddingDim == 0 {
			t.embeddingDim = len(c.Embedding)
		} else if t.embeddingDim != len(c.Embedding) {
			return fmt.Errorf("%w: tenant %s embedding dimension fixed at %d, got %d",
				model.ErrSchemaConflict, c.TenantID, t.embeddingDim, len(c.Embedding))
		}
	}

	if existing, ok := t.claims[c.ClaimID]; ok {
		if !isNewer(c, existing) {
			return nil // stale write, not an error: the newer record already won
		}
		t.idx.removeTemporal(existing)
		t.idx.removeEntities(existing)
		t.idx.removeEmbeddingIDs(existing)
	}

	ord := t.idx.ordinalFor(c.ClaimID)
	t.claims[c.ClaimID] = c
	t.idx.indexEntities(c, ord)
	t.idx.indexEmbeddingIDs(c, ord)
	t.idx.indexTemporal(c, ord)
	return nil
}

func isNewer(incoming, existing model.Claim) bool {
	if incoming.WALSeq != existing.WALSeq {
		return incoming.WALSeq > existing.WALSeq
	}
	return incoming.CreatedAtUnix >= existing.CreatedAtUnix
}

// IngestEvidence appends an evidence record to its claim (append-only,
// invariant 2). A record whose ContentHash matches one already stored for
// the same claim is a duplicate ingest and is silently deduplicated
// (DESIGN.md Open Question #2: content-hash dedup at ingest).
func (s *Store) IngestEvidence(e model.Evidence) error {
	if err := model.ValidateEvidence(e); err != nil {
		return err
	}

	t := s.tenant(e.TenantID, false)
	if t == nil {
		return fmt.Errorf("%w: evidence references claim %q in unknown tenant %q", model.ErrNotFound, e.ClaimID, e.TenantID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claims[e.ClaimID]; !ok {
		return fmt.Errorf("%w: evidence references unknown claim %q", model.ErrNotFound, e.ClaimID)
	}

	if e.ContentHash != "" {
		for _, existing := range t.evidence[e.ClaimID] {
			if existing.ContentHash == e.ContentHash {
				return nil
			}
		}
	}

	t.evidence[e.ClaimID] = append(t.evidence[e.ClaimID], e)
	return nil
}

// IngestEdge records a typed relation between two claims in the same
// tenant. Both endpoints must already exist (invariant 2).
func (s *Store) IngestEdge(e model.ClaimEdge) error {
	if err := model.ValidateEdge(e); err != nil {
		return err
	}

	t := s.tenant(e.TenantID, false)
	if t == nil {
		return fmt.Errorf("%w: edge references claims in unknown tenant %q", model.ErrNotFound, e.TenantID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claims[e.FromClaimID]; !ok {
		return fmt.Errorf("%w: edge from_claim_id %q does not exist", model.ErrNotFound, e.FromClaimID)
	}
	if _, ok := t.claims[e.ToClaimID]; !ok {
		return fmt.Errorf("%w: edge to_claim_id %q does not exist", model.ErrNotFound, e.ToClaimID)
	}

	if _, exists := t.edgeByID[e.EdgeID]; !exists {
		t.edgesOut[e.FromClaimID] = append(t.edgesOut[e.FromClaimID], e.EdgeID)
		t.edgesIn[e.ToClaimID] = append(t.edgesIn[e.ToClaimID], e.EdgeID)
	}
	t.edgeByID[e.EdgeID] = e
	return nil
}

// GetClaim returns a copy of a claim and whether it exists in tenantID.
func (s *Store) GetClaim(tenantID, claimID string) (model.Claim, bool) {
	t := s.tenant(tenantID, false)
	if t == nil {
		return model.Claim{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.claims[claimID]
	return c, ok
}

// Evidence returns the evidence records attached to a claim, in ingest order.
func (s *Store) Evidence(tenantID, claimID string) []model.Evidence {
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Evidence, len(t.evidence[claimID]))
	copy(out, t.evidence[claimID])
	return out
}

// EdgesFrom returns every edge whose from_claim_id is claimID.
func (s *Store) EdgesFrom(tenantID, claimID string) []model.ClaimEdge {
	return s.edgesByIDList(tenantID, claimID, true)
}

// EdgesTo returns every edge whose to_claim_id is claimID.
func (s *Store) EdgesTo(tenantID, claimID string) []model.ClaimEdge {
	return s.edgesByIDList(tenantID, claimID, false)
}

func (s *Store) edgesByIDList(tenantID, claimID string, outgoing bool) []model.ClaimEdge {
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	if outgoing {
		ids = t.edgesOut[claimID]
	} else {
		ids = t.edgesIn[claimID]
	}
	out := make([]model.ClaimEdge, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.edgeByID[id])
	}
	return out
}

// EnumerateClaimIDs returns every claim_id known for a tenant, in no
// particular order. Used by segment-base full-enumerate comparisons
// (testable property 4) and debug endpoints.
func (s *Store) EnumerateClaimIDs(tenantID string) []string {
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.claims))
	for id := range t.claims {
		out = append(out, id)
	}
	return out
}

// TenantEmbeddingDim returns the fixed embedding dimension for a tenant, or
// (0, false) if no vector has been ingested yet.
func (s *Store) TenantEmbeddingDim(tenantID string) (int, bool) {
	t := s.tenant(tenantID, false)
	if t == nil {
		return 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.embeddingDim, t.embeddingDim > 0
}

// Prefilter intersects the entity, embedding-id, and temporal indexes per
// Stage 3. A nil/empty filter dimension is skipped (not treated as
// empty-set); when every dimension is skipped, ok is false and the caller
// should not prefilter at all. Each non-skipped dimension matches any of its
// filter values (union within a dimension, intersection across dimensions).
func (s *Store) Prefilter(tenantID string, entityFilters, embeddingIDFilters []string, timeRange *model.TimeRange) (claimIDs []string, ok bool) {
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result *roaring.Bitmap
	intersect := func(bm *roaring.Bitmap) {
		if result == nil {
			result = bm
			return
		}
		result.And(bm)
	}

	if len(entityFilters) > 0 {
		intersect(t.idx.entityUnion(entityFilters))
		ok = true
	}
	if len(embeddingIDFilters) > 0 {
		intersect(t.idx.embeddingIDUnion(embeddingIDFilters))
		ok = true
	}
	if timeRange != nil {
		intersect(t.idx.temporalRange(timeRange.From, timeRange.To))
		ok = true
	}
	if !ok {
		return nil, false
	}
	return t.idx.claimIDs(result), true
}

// TenantIDs returns every tenant currently known to the store.
func (s *Store) TenantIDs() []string {
	s.tenantsMu.RLock()
	defer s.tenantsMu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		out = append(out, id)
	}
	return out
}

// Dump is a full materialization of the store, suitable for snapshot
// serialization. It carries plain records, not derived indexes: loading a
// Dump replays each record through IngestClaim/IngestEvidence/IngestEdge so
// indexes are rebuilt rather than (de)serialized, keeping the on-disk
// snapshot format independent of the in-memory index representation.
type Dump struct {
	Claims []model.Claim `json:"claims"`
	Evidence []model.Evidence `json:"evidence"`
	Edges []model.ClaimEdge `json:"edges"`
	Commits []CommitEntry `json:"commits,omitempty"`
}

// CommitEntry is one committed batch commit_id, carried in a Dump so a
// snapshot preserves idempotency across restarts.
type CommitEntry struct {
	CommitID string `json:"commit_id"`
	Hash string `json:"hash"`
}

// Dump materializes every tenant's records. Safe to call concurrently with
// ingestion; the result reflects a consistent-enough point-in-time view for
// snapshotting (per-tenant locks are held only while copying that tenant).
func (s *Store) Dump() Dump {
	var d Dump
	s.tenantsMu.RLock()
	tenantIDs := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		tenantIDs = append(tenantIDs, id)
	}
	s.tenantsMu.RUnlock()

	for _, id := range tenantIDs {
		t := s.tenant(id, false)
		t.mu.RLock()
		for _, c := range t.claims {
			d.Claims = append(d.Claims, c)
		}
		for _, evs := range t.evidence {
			d.Evidence = append(d.Evidence, evs...)
		}
		for _, e := range t.edgeByID {
			d.Edges = append(d.Edges, e)
		}
		t.mu.RUnlock()
	}

	s.commitsMu.RLock()
	for id, hash := range s.commits {
		d.Commits = append(d.Commits, CommitEntry{CommitID: id, Hash: hash})
	}
	s.commitsMu.RUnlock()

	return d
}

// LoadDump replays a Dump's records back into the store via the normal
// ingest paths, matching the "replay is idempotent" testable property.
// Claims are applied before evidence and edges so referential checks pass.
func (s *Store) LoadDump(d Dump) error {
	for _, c := range d.Claims {
		if err := s.IngestClaim(c); err != nil {
			return fmt.Errorf("store: load dump claim %s: %w", c.ClaimID, err)
		}
	}
	for _, e := range d.Evidence {
		if err := s.IngestEvidence(e); err != nil {
			return fmt.Errorf("store: load dump evidence %s: %w", e.EvidenceID, err)
		}
	}
	for _, e := range d.Edges {
		if err := s.IngestEdge(e); err != nil {
			return fmt.Errorf("store: load dump edge %s: %w", e.EdgeID, err)
		}
	}
	for _, c := range d.Commits {
		s.RecordCommit(c.CommitID, c.Hash)
	}
	return nil
}
