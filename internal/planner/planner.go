// Package planner implements the retrieval planner (C7, spec §4.6): the
// eight-stage pipeline from admission through citation-bearing response
// assembly. Each stage is a method on Planner so per-stage debug counters
// (/debug/planner) can be attributed precisely.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"github.com/dashdb/dash/internal/ann"
	"github.com/dashdb/dash/internal/boundary"
	"github.com/dashdb/dash/internal/lexical"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/router"
	"github.com/dashdb/dash/internal/store"
)

// SegmentClaims reports which claim ids a tenant's published segment base
// currently contains, for Stage 2 origin tagging. A nil SegmentClaims (or
// one that returns ok=false) means no segment has been published yet —
// every candidate is then tagged wal_delta or unknown.
type SegmentClaims interface {
	ClaimIDs(tenantID string) (ids map[string]bool, ok bool)
}

// Planner wires the per-tenant stores needed to answer a retrieval request.
type Planner struct {
	logger   *slog.Logger
	store    *store.Store
	ann      *ann.Manager
	lexical  *lexical.Manager
	boundary *boundary.Manager
	router   *router.Router
	weights  *WeightStore
	segments SegmentClaims

	maxCandidates int

	counters stageCounters
}

// Config configures a Planner.
type Config struct {
	Store         *store.Store
	ANN           *ann.Manager
	Lexical       *lexical.Manager
	Boundary      *boundary.Manager
	Router        *router.Router
	Weights       *WeightStore
	Segments      SegmentClaims
	MaxCandidates int // Stage 4 hard upper bound; 0 uses a sane default
}

// New constructs a Planner.
func New(logger *slog.Logger, cfg Config) *Planner {
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 1000
	}
	weights := cfg.Weights
	if weights == nil {
		weights = NewWeightStore()
	}
	return &Planner{
		logger:        logger,
		store:         cfg.Store,
		ann:           cfg.ANN,
		lexical:       cfg.Lexical,
		boundary:      cfg.Boundary,
		router:        cfg.Router,
		weights:       weights,
		segments:      cfg.Segments,
		maxCandidates: maxCandidates,
	}
}

// stageCounters are the per-stage debug counters for /debug/planner.
type stageCounters struct {
	admissionDenied   atomic.Uint64
	prefilterApplied  atomic.Uint64
	candidatesGenerated atomic.Uint64
	candidatesRanked  atomic.Uint64
	stanceFiltered    atomic.Uint64
	graphExpanded     atomic.Uint64
}

// Counters is a point-in-time snapshot of stageCounters for reporting.
type Counters struct {
	AdmissionDenied     uint64
	PrefilterApplied    uint64
	CandidatesGenerated uint64
	CandidatesRanked    uint64
	StanceFiltered      uint64
	GraphExpanded       uint64
}

// Counters reports the planner's cumulative per-stage counters.
func (p *Planner) Counters() Counters {
	return Counters{
		AdmissionDenied:     p.counters.admissionDenied.Load(),
		PrefilterApplied:    p.counters.prefilterApplied.Load(),
		CandidatesGenerated: p.counters.candidatesGenerated.Load(),
		CandidatesRanked:    p.counters.candidatesRanked.Load(),
		StanceFiltered:      p.counters.stanceFiltered.Load(),
		GraphExpanded:       p.counters.graphExpanded.Load(),
	}
}

// candidate is one internal candidate claim tracked through stages 2-6.
type candidate struct {
	claim     model.Claim
	origin    model.Origin
	semantic  float64
	bm25      float64
	score     float64
}

// Plan runs all eight stages and returns the Stage 8 response.
func (p *Planner) Plan(ctx context.Context, req model.RetrieveRequest) (model.RetrieveResponse, error) {
	if err := p.validate(req); err != nil {
		return model.RetrieveResponse{}, err
	}

	// Stage 1 — Admission.
	if err := p.admitRead(req); err != nil {
		p.counters.admissionDenied.Add(1)
		return model.RetrieveResponse{}, err
	}

	// Stage 2 — Source-of-truth resolution.
	candidateIDs, origins := p.resolveSourceOfTruth(req.TenantID)

	// Stage 3 — Metadata prefilter.
	prefiltered, prefilterApplied := p.store.Prefilter(req.TenantID, req.EntityFilters, req.EmbeddingIDFilters, req.TimeRange)
	if prefilterApplied {
		p.counters.prefilterApplied.Add(1)
		candidateIDs = intersectOrFallback(candidateIDs, prefiltered)
	}

	// Stage 4 — Candidate generation.
	candidates, err := p.generateCandidates(ctx, req, candidateIDs, origins)
	if err != nil {
		return model.RetrieveResponse{}, err
	}
	p.counters.candidatesGenerated.Add(uint64(len(candidates)))

	// Stage 5 — Ranking.
	weights := p.weights.WeightsFor(req.TenantID)
	p.rank(req, weights, candidates)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	p.counters.candidatesRanked.Add(uint64(len(candidates)))

	// Stage 6 — Stance filter.
	candidates = p.filterStance(req.TenantID, req.StanceMode, candidates)
	p.counters.stanceFiltered.Add(uint64(len(candidates)))

	topK := req.TopK
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	candidates = candidates[:topK]

	// Stage 8 (assembled alongside Stage 7 below) — Response.
	resp := model.RetrieveResponse{
		WeightVersion: weights.Version,
	}
	claimIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		resp.Claims = append(resp.Claims, p.toRetrievedClaim(req.TenantID, c))
		claimIDs = append(claimIDs, c.claim.ClaimID)
	}

	// Stage 7 — Graph expansion.
	if req.ReturnGraph {
		graph := p.expandGraph(req.TenantID, claimIDs, req.MaxDepth, req.NodeBudget)
		resp.Graph = &graph
		p.counters.graphExpanded.Add(1)
	}

	return resp, nil
}

func (p *Planner) validate(req model.RetrieveRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("planner: %w: tenant_id required", model.ErrInvalidRequest)
	}
	if req.TimeRange != nil && req.TimeRange.From > req.TimeRange.To {
		return fmt.Errorf("planner: %w: time_range.from > time_range.to", model.ErrInvalidRequest)
	}
	if len(req.QueryEmbedding) > 0 {
		if dim, ok := p.store.TenantEmbeddingDim(req.TenantID); ok && dim != len(req.QueryEmbedding) {
			return fmt.Errorf("planner: %w: tenant embedding dimension is %d, query has %d", model.ErrSchemaConflict, dim, len(req.QueryEmbedding))
		}
	}
	return nil
}

func (p *Planner) admitRead(req model.RetrieveRequest) error {
	if p.router == nil {
		return nil
	}
	// Reads are admitted at tenant granularity, not per-entity: the
	// planner has no single entity to shard on for a whole retrieval
	// request, so it probes the tenant's own id as the shard key.
	if err := p.router.AdmitRead(req.TenantID, req.TenantID); err != nil {
		return fmt.Errorf("planner: admit read: %w: %w", model.ErrRouteUnavailable, err)
	}
	return nil
}

// resolveSourceOfTruth computes Stage 2's candidate universe: every claim
// id currently known to the store, tagged by whether a published segment
// base or the WAL delta is its source of truth.
func (p *Planner) resolveSourceOfTruth(tenantID string) ([]string, map[string]model.Origin) {
	ids := p.store.EnumerateClaimIDs(tenantID)
	origins := make(map[string]model.Origin, len(ids))

	var segmentIDs map[string]bool
	var segmentOK bool
	if p.segments != nil {
		segmentIDs, segmentOK = p.segments.ClaimIDs(tenantID)
	}

	state := boundary.ReplayOnly
	if p.boundary != nil {
		state = p.boundary.State(tenantID)
	}

	for _, id := range ids {
		switch {
		case segmentOK && segmentIDs[id]:
			origins[id] = model.OriginSegmentBase
		case state == boundary.ReplayOnly:
			origins[id] = model.OriginUnknown
		default:
			origins[id] = model.OriginWALDelta
		}
	}
	return ids, origins
}

// intersectOrFallback intersects base and filtered id sets; if either is
// empty it returns the other (Stage 4's union/fallback rule, reused here
// for Stage 3 since an empty prefilter result means "no filter applied").
func intersectOrFallback(base, filtered []string) []string {
	if len(filtered) == 0 {
		return base
	}
	if len(base) == 0 {
		return filtered
	}
	filterSet := make(map[string]bool, len(filtered))
	for _, id := range filtered {
		filterSet[id] = true
	}
	out := make([]string, 0, len(base))
	for _, id := range base {
		if filterSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func (p *Planner) generateCandidates(ctx context.Context, req model.RetrieveRequest, allowedIDs []string, origins map[string]model.Origin) ([]*candidate, error) {
	allowed := make(map[string]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	byID := make(map[string]*candidate)
	addScore := func(id string, semantic, bm25 float64) {
		if len(allowed) > 0 && !allowed[id] {
			return
		}
		c, ok := byID[id]
		if !ok {
			claim, ok := p.store.GetClaim(req.TenantID, id)
			if !ok {
				return
			}
			origin := origins[id]
			if origin == "" {
				origin = model.OriginUnknown
			}
			c = &candidate{claim: claim, origin: origin}
			byID[id] = c
		}
		if semantic > c.semantic {
			c.semantic = semantic
		}
		if bm25 > c.bm25 {
			c.bm25 = bm25
		}
	}

	if len(req.QueryEmbedding) > 0 && p.ann != nil {
		results, err := p.ann.Search(req.TenantID, req.QueryEmbedding, p.maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("planner: ann search: %w", err)
		}
		for _, r := range results {
			addScore(r.ClaimID, float64(r.Score), 0)
		}
	}

	if req.QueryText != "" && p.lexical != nil {
		results, err := p.lexical.Search(ctx, req.TenantID, req.QueryText, p.maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("planner: lexical search: %w", err)
		}
		for _, r := range results {
			addScore(r.ClaimID, 0, r.Score)
		}
	}

	// Neither embedding nor text supplied: every prefiltered/allowed claim
	// is a candidate with zero semantic/bm25 contribution, ranked purely on
	// graph and metadata signal.
	if len(req.QueryEmbedding) == 0 && req.QueryText == "" {
		for _, id := range allowedIDs {
			addScore(id, 0, 0)
		}
	}

	out := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	if len(out) > p.maxCandidates {
		sort.Slice(out, func(i, j int) bool { return out[i].semantic+out[i].bm25 > out[j].semantic+out[j].bm25 })
		out = out[:p.maxCandidates]
	}
	return out, nil
}

func (p *Planner) rank(req model.RetrieveRequest, weights Weights, candidates []*candidate) {
	var windowMid int64
	if req.TimeRange != nil {
		windowMid = (req.TimeRange.From + req.TimeRange.To) / 2
	}

	for _, c := range candidates {
		supports := p.store.EdgesTo(req.TenantID, c.claim.ClaimID)
		var supportStrength, contradictionRisk float64
		for _, e := range supports {
			switch e.Relation {
			case model.RelationSupports:
				supportStrength += e.Strength
			case model.RelationContradicts:
				contradictionRisk += e.Strength
			}
		}

		temporalDecay := 0.0
		if windowMid > 0 && c.claim.EventTimeUnix != nil {
			deltaDays := math.Abs(float64(*c.claim.EventTimeUnix-windowMid)) / 86400
			temporalDecay = math.Exp(-deltaDays / 30)
		}

		sourceQuality := averageSourceQuality(p.store.Evidence(req.TenantID, c.claim.ClaimID))

		c.score = weights.Semantic*c.semantic +
			weights.BM25*c.bm25 +
			weights.SupportStrength*supportStrength -
			weights.ContradictionRisk*contradictionRisk +
			weights.TemporalDecay*temporalDecay +
			weights.SourceQuality*sourceQuality +
			weights.CalibrationConfidence*c.claim.Confidence
	}
}

func averageSourceQuality(evidence []model.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evidence {
		sum += e.SourceQuality
	}
	return sum / float64(len(evidence))
}

// dominantStanceThreshold is the fraction of contradicting evidence above
// which a claim's dominant stance is treated as contradicts for Stage 6.
const dominantStanceThreshold = 0.5

func (p *Planner) filterStance(tenantID string, mode model.StanceMode, candidates []*candidate) []*candidate {
	if mode != model.StanceModeSupportOnly {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		evidence := p.store.Evidence(tenantID, c.claim.ClaimID)
		if !dominantStanceIsContradicts(evidence) {
			out = append(out, c)
		}
	}
	return out
}

func dominantStanceIsContradicts(evidence []model.Evidence) bool {
	if len(evidence) == 0 {
		return false
	}
	var contradicts int
	for _, e := range evidence {
		if e.Stance == model.StanceContradicts {
			contradicts++
		}
	}
	return float64(contradicts)/float64(len(evidence)) > dominantStanceThreshold
}

func (p *Planner) toRetrievedClaim(tenantID string, c *candidate) model.RetrievedClaim {
	evidence := p.store.Evidence(tenantID, c.claim.ClaimID)
	citations := make([]model.Citation, 0, len(evidence))
	var supportCount, contradictCount int
	for _, e := range evidence {
		citations = append(citations, model.Citation{
			SourceID:      e.SourceID,
			SpanStart:     e.SpanStart,
			SpanEnd:       e.SpanEnd,
			Stance:        e.Stance,
			SourceQuality: e.SourceQuality,
		})
		switch e.Stance {
		case model.StanceSupports:
			supportCount++
		case model.StanceContradicts:
			contradictCount++
		}
	}

	return model.RetrievedClaim{
		Claim:           c.claim,
		Score:           c.score,
		Citations:       citations,
		SupportCount:    supportCount,
		ContradictCount: contradictCount,
		ConfidenceBand:  confidenceBand(c.claim.Confidence),
		Origin:          c.origin,
	}
}

func confidenceBand(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// expandGraph performs the Stage 7 bounded-depth BFS from every top-K
// claim, capped by nodeBudget and maxDepth.
func (p *Planner) expandGraph(tenantID string, seedIDs []string, maxDepth, nodeBudget int) model.Subgraph {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if nodeBudget <= 0 {
		nodeBudget = 200
	}

	visited := make(map[string]int) // claim id -> depth visited at
	var nodes []model.GraphNode
	var edges []model.GraphEdge
	seenEdges := make(map[string]bool)

	type queued struct {
		claimID string
		depth   int
	}
	queue := make([]queued, 0, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = 0
		queue = append(queue, queued{claimID: id, depth: 0})
	}

	for len(queue) > 0 && len(nodes) < nodeBudget {
		cur := queue[0]
		queue = queue[1:]

		supportPaths, contradictionDepth := p.graphSignalFor(tenantID, cur.claimID)
		nodes = append(nodes, model.GraphNode{
			ClaimID:                 cur.claimID,
			GraphScore:              1.0 / float64(cur.depth+1),
			SupportPathCount:        supportPaths,
			ContradictionChainDepth: contradictionDepth,
		})

		if cur.depth >= maxDepth {
			continue
		}

		neighbors := append(p.store.EdgesFrom(tenantID, cur.claimID), p.store.EdgesTo(tenantID, cur.claimID)...)
		for _, e := range neighbors {
			if !seenEdges[e.EdgeID] {
				seenEdges[e.EdgeID] = true
				edges = append(edges, model.GraphEdge{
					EdgeID:      e.EdgeID,
					FromClaimID: e.FromClaimID,
					ToClaimID:   e.ToClaimID,
					Relation:    e.Relation,
					Strength:    e.Strength,
				})
			}
			other := e.ToClaimID
			if other == cur.claimID {
				other = e.FromClaimID
			}
			if _, seen := visited[other]; !seen && len(nodes)+len(queue) < nodeBudget {
				visited[other] = cur.depth + 1
				queue = append(queue, queued{claimID: other, depth: cur.depth + 1})
			}
		}
	}

	return model.Subgraph{Nodes: nodes, Edges: edges}
}

func (p *Planner) graphSignalFor(tenantID, claimID string) (supportPathCount, contradictionChainDepth int) {
	for _, e := range p.store.EdgesTo(tenantID, claimID) {
		switch e.Relation {
		case model.RelationSupports:
			supportPathCount++
		case model.RelationContradicts:
			contradictionChainDepth++
		}
	}
	return supportPathCount, contradictionChainDepth
}
