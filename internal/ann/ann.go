// Package ann implements the DASH approximate nearest-neighbor index (C6):
// an in-process, tenant-scoped layered proximity graph used as the vector
// half of candidate generation. Each tenant gets its own graph with a fixed
// embedding dimension, matching the store's per-tenant dimension lock.
//
// The parameter naming (max_neighbors_base/upper) is grounded on
// internal/search/qdrant.go's HnswConfigDiff (M / EfConstruct) in the
// teacher, reimplemented in-process instead of delegating to an external
// vector database; the collection-per-tenant discipline there grounds the
// per-tenant index partitioning here.
package ann

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Config bounds graph construction and search cost for every tenant index.
type Config struct {
	MaxNeighborsBase int // M0: neighbor cap at layer 0
	MaxNeighborsUpper int // M: neighbor cap at layers above 0
	BuildExpansionFactor int // candidate list size while inserting (efConstruction)
	SearchExpansionFactor float64 // ef = max(k * factor, SearchMinCandidates), capped at SearchMaxCandidates
	SearchMinCandidates int
	SearchMaxCandidates int
}

func (c Config) withDefaults() Config {
	if c.MaxNeighborsBase <= 0 {
		c.MaxNeighborsBase = 32
	}
	if c.MaxNeighborsUpper <= 0 {
		c.MaxNeighborsUpper = 16
	}
	if c.BuildExpansionFactor <= 0 {
		c.BuildExpansionFactor = 128
	}
	if c.SearchExpansionFactor <= 0 {
		c.SearchExpansionFactor = 4
	}
	if c.SearchMinCandidates <= 0 {
		c.SearchMinCandidates = 32
	}
	if c.SearchMaxCandidates <= 0 {
		c.SearchMaxCandidates = 512
	}
	return c
}

// Result is one search hit: a claim ID and its cosine similarity to the
// query vector, in [-1, 1] with higher meaning more similar.
type Result struct {
	ClaimID string
	Score float32
}

type node struct {
	id string
	vector []float32
	level int
	neighbors [][]string // neighbors[l] holds this node's edges at layer l
}

// Index is one tenant's proximity graph, fixed to a single embedding
// dimension for its lifetime.
type Index struct {
	mu sync.RWMutex
	cfg Config
	dim int

	nodes map[string]*node
	entryPoint string
	maxLevel int

	rng *rand.Rand

	searches atomic.Uint64
	expansionBudgetHit atomic.Uint64
}

func newIndex(cfg Config, dim int, seed int64) *Index {
	return &Index{
		cfg: cfg,
		dim: dim,
		nodes: make(map[string]*node),
		maxLevel: -1,
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // graph layout only, not security sensitive
	}
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the tenant index's fixed dimension.
var ErrDimensionMismatch = fmt.Errorf("ann: embedding dimension mismatch")

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// levelMultiplier is mL in the standard HNSW level-assignment formula,
// derived from the upper-layer neighbor cap: a larger cap gives a smaller mL
// and so fewer layers.
func (x *Index) levelMultiplier() float64 {
	return 1.0 / math.Log(float64(x.cfg.MaxNeighborsUpper))
}

func (x *Index) randomLevel() int {
	r := x.rng.Float64()
	for r == 0 {
		r = x.rng.Float64()
	}
	return int(math.Floor(-math.Log(r) * x.levelMultiplier()))
}

// candidate is one entry in the search priority queues, ordered by
// similarity to the query (higher is better).
type candidate struct {
	id string
	score float32
}

// maxHeap orders candidates highest-score-first, used to track the
// closest-so-far frontier during greedy descent and as the working set
// during beam search.
type maxHeap []candidate

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].score > h[j].score }
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap orders candidates lowest-score-first, used to evict the weakest
// member of a bounded result set in O(log n).
type minHeap []candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs a bounded beam search for the ef closest nodes to query
// at layer, starting from entryPoints. Must be called with x.mu held.
func (x *Index) searchLayer(query []float32, entryPoints []string, ef, layer int) []candidate {
	visited := make(map[string]bool, ef*2)
	candidates := &maxHeap{}
	results := &minHeap{}

	for _, id := range entryPoints {
		if visited[id] {
			continue
		}
		visited[id] = true
		n := x.nodes[id]
		c := candidate{id: id, score: cosine(query, n.vector)}
		heap.Push(candidates, c)
		heap.Push(results, c)
	}

	for candidates.Len() > 0 {
		best := heap.Pop(candidates).(candidate) //nolint:forcetypeassert // heap only ever holds candidate
		if results.Len() >= ef {
			worst := (*results)[0]
			if best.score < worst.score {
				break
			}
		}

		n := x.nodes[best.id]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nbID := range n.neighbors[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb := x.nodes[nbID]
			c := candidate{id: nbID, score: cosine(query, nb.vector)}
			if results.Len() < ef {
				heap.Push(candidates, c)
				heap.Push(results, c)
			} else if c.score > (*results)[0].score {
				heap.Push(candidates, c)
				heap.Push(results, c)
				heap.Pop(results)
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate) //nolint:forcetypeassert // heap only ever holds candidate
	}
	return out
}

// selectNeighbors trims candidates to at most m entries, keeping the
// highest-scoring ones. Candidates are assumed already sorted descending.
func selectNeighbors(candidates []candidate, m int) []string {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// upsert inserts claimID/vector into the graph, or replaces its vector and
// re-links it if it already exists. Must be called with x.mu held.
func (x *Index) upsert(claimID string, vector []float32) error {
	if len(vector) != x.dim {
		return fmt.Errorf("%w: tenant index expects %d dims, got %d", ErrDimensionMismatch, x.dim, len(vector))
	}

	if _, ok := x.nodes[claimID]; ok {
		x.removeLocked(claimID)
	}

	level := x.randomLevel()
	n := &node{id: claimID, vector: vector, level: level, neighbors: make([][]string, level+1)}
	x.nodes[claimID] = n

	if x.entryPoint == "" {
		x.entryPoint = claimID
		x.maxLevel = level
		return nil
	}

	entry := x.entryPoint
	for l := x.maxLevel; l > level; l-- {
		nearest := x.searchLayer(vector, []string{entry}, 1, l)
		if len(nearest) > 0 {
			entry = nearest[0].id
		}
	}

	entryPoints := []string{entry}
	for l := min(level, x.maxLevel); l >= 0; l-- {
		found := x.searchLayer(vector, entryPoints, x.cfg.BuildExpansionFactor, l)
		neighborCap := x.cfg.MaxNeighborsUpper
		if l == 0 {
			neighborCap = x.cfg.MaxNeighborsBase
		}
		neighborIDs := selectNeighbors(found, neighborCap)
		n.neighbors[l] = neighborIDs

		for _, nbID := range neighborIDs {
			nb := x.nodes[nbID]
			if l >= len(nb.neighbors) {
				continue
			}
			nb.neighbors[l] = append(nb.neighbors[l], claimID)
			nbCap := x.cfg.MaxNeighborsUpper
			if l == 0 {
				nbCap = x.cfg.MaxNeighborsBase
			}
			if len(nb.neighbors[l]) > nbCap {
				nb.neighbors[l] = x.pruneNeighbors(nb, l, nbCap)
			}
		}

		entryPoints = neighborIDs
		if len(entryPoints) == 0 {
			entryPoints = []string{entry}
		}
	}

	if level > x.maxLevel {
		x.maxLevel = level
		x.entryPoint = claimID
	}
	return nil
}

func (x *Index) pruneNeighbors(n *node, layer, neighborCap int) []string {
	scored := make([]candidate, 0, len(n.neighbors[layer]))
	for _, id := range n.neighbors[layer] {
		other, ok := x.nodes[id]
		if !ok {
			continue
		}
		scored = append(scored, candidate{id: id, score: cosine(n.vector, other.vector)})
	}
	sortCandidatesDesc(scored)
	return selectNeighbors(scored, neighborCap)
}

func sortCandidatesDesc(c []candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].score > c[j-1].score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// removeLocked deletes claimID from the graph and unlinks it from every
// neighbor that referenced it. Must be called with x.mu held.
func (x *Index) removeLocked(claimID string) {
	n, ok := x.nodes[claimID]
	if !ok {
		return
	}
	for l, neighbors := range n.neighbors {
		for _, nbID := range neighbors {
			nb, ok := x.nodes[nbID]
			if !ok || l >= len(nb.neighbors) {
				continue
			}
			nb.neighbors[l] = removeID(nb.neighbors[l], claimID)
		}
	}
	delete(x.nodes, claimID)

	if x.entryPoint == claimID {
		x.entryPoint = ""
		x.maxLevel = -1
		for id, other := range x.nodes {
			if x.entryPoint == "" || other.level > x.nodes[x.entryPoint].level {
				x.entryPoint = id
				x.maxLevel = other.level
			}
		}
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// search runs bounded k-nearest-neighbor search against query. Must be
// called with x.mu held for reading.
func (x *Index) search(query []float32, k int) ([]Result, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: tenant index expects %d dims, got %d", ErrDimensionMismatch, x.dim, len(query))
	}
	if x.entryPoint == "" {
		return nil, nil
	}

	entry := x.entryPoint
	for l := x.maxLevel; l > 0; l-- {
		nearest := x.searchLayer(query, []string{entry}, 1, l)
		if len(nearest) > 0 {
			entry = nearest[0].id
		}
	}

	ef := int(float64(k) * x.cfg.SearchExpansionFactor)
	if ef < x.cfg.SearchMinCandidates {
		ef = x.cfg.SearchMinCandidates
	}
	budgetHit := false
	if ef > x.cfg.SearchMaxCandidates {
		ef = x.cfg.SearchMaxCandidates
		budgetHit = true
	}

	found := x.searchLayer(query, []string{entry}, ef, 0)
	if budgetHit {
		x.expansionBudgetHit.Add(1)
	}
	x.searches.Add(1)

	if len(found) > k {
		found = found[:k]
	}
	out := make([]Result, len(found))
	for i, c := range found {
		out[i] = Result{ClaimID: c.id, Score: c.score}
	}
	return out, nil
}
