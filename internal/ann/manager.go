package ann

import (
	"fmt"
	"sync"
)

// Manager owns one Index per tenant and is the package's external API —
// callers never touch Index directly. A tenant's dimension is fixed by its
// first Upsert and enforced for every later call, mirroring the store's own
// per-tenant embedding-dimension lock.
type Manager struct {
	cfg Config

	mu sync.RWMutex
	indexes map[string]*Index
}

// NewManager constructs a Manager. cfg is shared by every tenant index.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), indexes: make(map[string]*Index)}
}

func (m *Manager) indexFor(tenantID string, dim int, createIfMissing bool) (*Index, error) {
	m.mu.RLock()
	idx, ok := m.indexes[tenantID]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}
	if !createIfMissing {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[tenantID]; ok {
		return idx, nil
	}
	idx = newIndex(m.cfg, dim, int64(len(m.indexes)+1)) //nolint:gosec // deterministic per-tenant seed, not security sensitive
	m.indexes[tenantID] = idx
	return idx, nil
}

// Upsert inserts or replaces claimID's vector in tenantID's graph. The
// first call for a tenant fixes that tenant's embedding dimension; later
// calls with a different dimension fail with ErrDimensionMismatch.
func (m *Manager) Upsert(tenantID, claimID string, vector []float32) error {
	idx, err := m.indexFor(tenantID, len(vector), true)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.upsert(claimID, vector)
}

// Remove deletes claimID from tenantID's graph, if present.
func (m *Manager) Remove(tenantID, claimID string) {
	idx, _ := m.indexFor(tenantID, 0, false)
	if idx == nil {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(claimID)
}

// Search returns up to k nearest neighbors of query within tenantID's
// graph, ordered by descending cosine similarity. Returns (nil, nil) for a
// tenant with no index yet (cold start, not an error).
func (m *Manager) Search(tenantID string, query []float32, k int) ([]Result, error) {
	idx, _ := m.indexFor(tenantID, 0, false)
	if idx == nil {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.search(query, k)
}

// Size returns the number of vectors indexed for tenantID.
func (m *Manager) Size(tenantID string) int {
	idx, _ := m.indexFor(tenantID, 0, false)
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Counters is the aggregate search-cost telemetry across every tenant
// index, for the debug/metrics surface.
type Counters struct {
	Searches uint64
	ExpansionBudgetExhausted uint64
	Tenants int
}

// Counters reports aggregate search counters across all tenant indexes.
func (m *Manager) Counters() Counters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counters
	c.Tenants = len(m.indexes)
	for _, idx := range m.indexes {
		c.Searches += idx.searches.Load()
		c.ExpansionBudgetExhausted += idx.expansionBudgetHit.Load()
	}
	return c
}

// RecallAtK measures recall@k for a tenant's current graph against an
// exhaustive brute-force scan over the same vectors: the fraction of the
// true top-k neighbors (by exact cosine similarity) that ANN search
// actually returned. Intended for offline evaluation against a sample of
// queries, not the request hot path.
func (m *Manager) RecallAtK(tenantID string, query []float32, k int) (float64, error) {
	idx, _ := m.indexFor(tenantID, 0, false)
	if idx == nil {
		return 0, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dim {
		return 0, fmt.Errorf("%w: tenant index expects %d dims, got %d", ErrDimensionMismatch, idx.dim, len(query))
	}

	approx, err := idx.search(query, k)
	if err != nil {
		return 0, err
	}

	exact := make([]candidate, 0, len(idx.nodes))
	for id, n := range idx.nodes {
		exact = append(exact, candidate{id: id, score: cosine(query, n.vector)})
	}
	sortCandidatesDesc(exact)
	if len(exact) > k {
		exact = exact[:k]
	}

	truth := make(map[string]bool, len(exact))
	for _, c := range exact {
		truth[c.id] = true
	}
	if len(truth) == 0 {
		return 1, nil
	}

	hits := 0
	for _, r := range approx {
		if truth[r.ClaimID] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth)), nil
}
