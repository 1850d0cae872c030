// Package model defines the DASH domain records — claims, evidence, and
// claim-to-claim edges — along with the request/response and error-taxonomy
// types shared across the store, planner, and transport layers.
package model

import "fmt"

// Claim is an atomic, normalized statement with provenance and temporal
// scope. Identity is the pair (TenantID, ClaimID); text and identity are
// immutable once written. Confidence and associated metadata may only be
// revised by a newer record carrying the same ClaimID+TenantID.
type Claim struct {
	ClaimID string `json:"claim_id"`
	TenantID string `json:"tenant_id"`
	CanonicalText string `json:"canonical_text"`
	Confidence float64 `json:"confidence"`
	EventTimeUnix *int64 `json:"event_time_unix,omitempty"`
	ValidFrom *int64 `json:"valid_from,omitempty"`
	ValidTo *int64 `json:"valid_to,omitempty"`
	Entities []string `json:"entities,omitempty"`
	EmbeddingIDs []string `json:"embedding_ids,omitempty"`
	Embedding []float32 `json:"embedding_vector,omitempty"`

	// CreatedAtUnix and WALSeq are ambient bookkeeping, not part of the
	// wire contract, but needed to resolve "newer record wins" on revise.
	CreatedAtUnix int64 `json:"created_at_unix"`
	WALSeq uint64 `json:"-"`
}

// Key returns the tenant-scoped identity used for uniqueness (invariant 1).
func (c Claim) Key() ClaimKey {
	return ClaimKey{TenantID: c.TenantID, ClaimID: c.ClaimID}
}

// ClaimKey is the globally-unique identity of a claim.
type ClaimKey struct {
	TenantID string
	ClaimID string
}

// Stance enumerates the relationship an Evidence record expresses toward its claim.
type Stance string

const (
	StanceSupports Stance = "supports"
	StanceContradicts Stance = "contradicts"
	StanceNeutral Stance = "neutral"
)

func (s Stance) Valid() bool {
	switch s {
	case StanceSupports, StanceContradicts, StanceNeutral:
		return true
	}
	return false
}

// Evidence is a source-bound, append-only observation supporting or
// contradicting exactly one claim.
type Evidence struct {
	EvidenceID string `json:"evidence_id"`
	TenantID string `json:"tenant_id"`
	ClaimID string `json:"claim_id"`
	SourceID string `json:"source_id"`
	DocID *string `json:"doc_id,omitempty"`
	ChunkID *string `json:"chunk_id,omitempty"`
	SpanStart int `json:"span_start"`
	SpanEnd int `json:"span_end"`
	Stance Stance `json:"stance"`
	SourceQuality float64 `json:"source_quality"`
	IngestedAt int64 `json:"ingested_at"`

	// ContentHash dedups evidence at ingest time (DESIGN.md Open Question #2):
	// SHA-256 of (claim_id, source_id, canonical span+content), hex-encoded.
	ContentHash string `json:"content_hash,omitempty"`
}

// Relation enumerates the typed relationships a ClaimEdge may express.
type Relation string

const (
	RelationSupports Relation = "supports"
	RelationContradicts Relation = "contradicts"
	RelationRefines Relation = "refines"
	RelationDuplicates Relation = "duplicates"
	RelationDependsOn Relation = "depends_on"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationSupports, RelationContradicts, RelationRefines, RelationDuplicates, RelationDependsOn:
		return true
	}
	return false
}

// ClaimEdge is a typed, directed relation between two claims in the same tenant.
type ClaimEdge struct {
	EdgeID string `json:"edge_id"`
	TenantID string `json:"tenant_id"`
	FromClaimID string `json:"from_claim_id"`
	ToClaimID string `json:"to_claim_id"`
	Relation Relation `json:"relation"`
	Strength float64 `json:"strength"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// ValidateClaim enforces the structural invariants that do not require
// store lookups (confidence range, temporal ordering; stance/relation
// enums are checked on their own records).
func ValidateClaim(c Claim) error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if c.ClaimID == "" {
		return fmt.Errorf("%w: claim_id is required", ErrInvalidRequest)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0,1], got %f", ErrInvalidRequest, c.Confidence)
	}
	if c.ValidFrom != nil && c.ValidTo != nil && *c.ValidFrom > *c.ValidTo {
		return fmt.Errorf("%w: valid_from must be <= valid_to", ErrInvalidRequest)
	}
	return nil
}

// ValidateEvidence enforces evidence-level structural invariants (span
// ordering, stance enum, quality range). Claim-existence (invariant 2) is
// checked by the store, not here.
func ValidateEvidence(e Evidence) error {
	if e.TenantID == "" || e.ClaimID == "" || e.EvidenceID == "" {
		return fmt.Errorf("%w: evidence requires tenant_id, claim_id, evidence_id", ErrInvalidRequest)
	}
	if e.SpanStart >= e.SpanEnd {
		return fmt.Errorf("%w: span_start must be < span_end", ErrInvalidRequest)
	}
	if !e.Stance.Valid() {
		return fmt.Errorf("%w: invalid stance %q", ErrInvalidRequest, e.Stance)
	}
	if e.SourceQuality < 0 || e.SourceQuality > 1 {
		return fmt.Errorf("%w: source_quality must be in [0,1]", ErrInvalidRequest)
	}
	return nil
}

// ValidateEdge enforces edge-level structural invariants. Endpoint
// resolution (invariant 2) is checked by the store.
func ValidateEdge(e ClaimEdge) error {
	if e.TenantID == "" || e.EdgeID == "" || e.FromClaimID == "" || e.ToClaimID == "" {
		return fmt.Errorf("%w: edge requires tenant_id, edge_id, from_claim_id, to_claim_id", ErrInvalidRequest)
	}
	if !e.Relation.Valid() {
		return fmt.Errorf("%w: invalid relation %q", ErrInvalidRequest, e.Relation)
	}
	if e.Strength < 0 || e.Strength > 1 {
		return fmt.Errorf("%w: strength must be in [0,1]", ErrInvalidRequest)
	}
	return nil
}
