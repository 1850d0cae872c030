package store_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v int64) *int64 { return &v }

func TestStore_IngestAndGetClaim(t *testing.T) {
	s := store.New(testLogger())

	c := model.Claim{ClaimID: "c1", TenantID: "t1", CanonicalText: "Company X acquired Company Y", Confidence: 0.9}
	require.NoError(t, s.IngestClaim(c))

	got, ok := s.GetClaim("t1", "c1")
	require.True(t, ok)
	assert.Equal(t, "Company X acquired Company Y", got.CanonicalText)
}

func TestStore_CrossTenantClaimIDCollisionRejected(t *testing.T) {
	s := store.New(testLogger())

	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Confidence: 0.5}))
	err := s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t2", Confidence: 0.5})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, ok := s.GetClaim("t2", "c1")
	assert.False(t, ok, "rejected cross-tenant claim must not appear in the second tenant")

	got, ok := s.GetClaim("t1", "c1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TenantID)
}

func TestStore_SameTenantReviseRequiresNewerRecord(t *testing.T) {
	s := store.New(testLogger())

	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Confidence: 0.5, WALSeq: 5}))
	// Stale write (lower WALSeq) must not overwrite.
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Confidence: 0.9, WALSeq: 2}))

	got, _ := s.GetClaim("t1", "c1")
	assert.Equal(t, 0.5, got.Confidence, "stale revision must not apply")

	// Newer write overwrites.
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Confidence: 0.9, WALSeq: 9}))
	got, _ = s.GetClaim("t1", "c1")
	assert.Equal(t, 0.9, got.Confidence)
}

func TestStore_EmbeddingDimensionFixedPerTenant(t *testing.T) {
	s := store.New(testLogger())

	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Embedding: []float32{1, 2, 3}}))

	err := s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t1", Embedding: []float32{1, 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSchemaConflict)
}

func TestStore_EvidenceRequiresExistingClaim(t *testing.T) {
	s := store.New(testLogger())

	err := s.IngestEvidence(model.Evidence{
		EvidenceID: "e1", TenantID: "t1", ClaimID: "missing",
		SpanStart: 0, SpanEnd: 5, Stance: model.StanceSupports, SourceQuality: 0.8,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_EvidenceContentHashDeduplicates(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1"}))

	ev := model.Evidence{
		EvidenceID: "e1", TenantID: "t1", ClaimID: "c1", SourceID: "source://doc-1",
		SpanStart: 0, SpanEnd: 5, Stance: model.StanceSupports, SourceQuality: 0.9,
		ContentHash: "abc123",
	}
	require.NoError(t, s.IngestEvidence(ev))

	dup := ev
	dup.EvidenceID = "e2" // different id, identical content hash
	require.NoError(t, s.IngestEvidence(dup))

	assert.Len(t, s.Evidence("t1", "c1"), 1, "duplicate content hash must be deduplicated, not appended")
}

func TestStore_EdgeRequiresBothEndpoints(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1"}))

	err := s.IngestEdge(model.ClaimEdge{
		EdgeID: "g1", TenantID: "t1", FromClaimID: "c1", ToClaimID: "missing",
		Relation: model.RelationSupports, Strength: 0.5,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_EdgeAdjacency(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1"}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t1"}))
	require.NoError(t, s.IngestEdge(model.ClaimEdge{
		EdgeID: "g1", TenantID: "t1", FromClaimID: "c1", ToClaimID: "c2",
		Relation: model.RelationContradicts, Strength: 0.7,
	}))

	out := s.EdgesFrom("t1", "c1")
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].ToClaimID)

	in := s.EdgesTo("t1", "c2")
	require.Len(t, in, 1)
	assert.Equal(t, "c1", in[0].FromClaimID)

	assert.Empty(t, s.EdgesFrom("t1", "c2"))
}

func TestStore_PrefilterEntityUnion(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", Entities: []string{"acme"}}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t1", Entities: []string{"globex"}}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c3", TenantID: "t1", Entities: []string{"initech"}}))

	ids, ok := s.Prefilter("t1", []string{"acme", "globex"}, nil, nil)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
}

func TestStore_PrefilterTemporalRangeExcludesUnknownEventTime(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", EventTimeUnix: ptr(1_700_000_000)}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t1"})) // no event time

	ids, ok := s.Prefilter("t1", nil, nil, &model.TimeRange{From: 1_600_000_000, To: 1_800_000_000})
	require.True(t, ok)
	assert.Equal(t, []string{"c1"}, ids, "claims with no event_time_unix must be excluded once a temporal filter is set")

	ids, ok = s.Prefilter("t1", nil, nil, &model.TimeRange{From: 1_800_000_000, To: 1_900_000_000})
	require.True(t, ok)
	assert.Empty(t, ids)
}

func TestStore_PrefilterIntersectsAcrossDimensions(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", Entities: []string{"acme"}, EventTimeUnix: ptr(1_700_000_000),
	}))
	require.NoError(t, s.IngestClaim(model.Claim{
		ClaimID: "c2", TenantID: "t1", Entities: []string{"acme"}, EventTimeUnix: ptr(1_900_000_000),
	}))

	ids, ok := s.Prefilter("t1", []string{"acme"}, nil, &model.TimeRange{From: 1_600_000_000, To: 1_800_000_000})
	require.True(t, ok)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestStore_PrefilterNoFilterDimensionsReturnsNotOK(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1"}))

	_, ok := s.Prefilter("t1", nil, nil, nil)
	assert.False(t, ok, "no filter dimensions set means the caller should skip prefiltering entirely")
}

func TestStore_DumpAndLoadDumpRoundTrip(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1", CanonicalText: "a"}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t1", CanonicalText: "b"}))
	require.NoError(t, s.IngestEvidence(model.Evidence{
		EvidenceID: "e1", TenantID: "t1", ClaimID: "c1", SourceID: "src",
		SpanStart: 0, SpanEnd: 1, Stance: model.StanceSupports, SourceQuality: 0.5,
		ContentHash: "hash-e1",
	}))
	require.NoError(t, s.IngestEdge(model.ClaimEdge{
		EdgeID: "g1", TenantID: "t1", FromClaimID: "c1", ToClaimID: "c2",
		Relation: model.RelationRefines, Strength: 0.3,
	}))

	dump := s.Dump()

	s2 := store.New(testLogger())
	require.NoError(t, s2.LoadDump(dump))

	assert.ElementsMatch(t, s.EnumerateClaimIDs("t1"), s2.EnumerateClaimIDs("t1"))
	assert.Len(t, s2.Evidence("t1", "c1"), 1)
	assert.Len(t, s2.EdgesFrom("t1", "c1"), 1)

	// Idempotent: loading the same dump twice must not duplicate evidence
	// or edges, matching the replay-idempotence testable property.
	require.NoError(t, s2.LoadDump(dump))
	assert.Len(t, s2.Evidence("t1", "c1"), 1)
	assert.Len(t, s2.EdgesFrom("t1", "c1"), 1)
}

func TestStore_TenantIsolation(t *testing.T) {
	s := store.New(testLogger())
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c1", TenantID: "t1"}))
	require.NoError(t, s.IngestClaim(model.Claim{ClaimID: "c2", TenantID: "t2"}))

	assert.ElementsMatch(t, []string{"c1"}, s.EnumerateClaimIDs("t1"))
	assert.ElementsMatch(t, []string{"c2"}, s.EnumerateClaimIDs("t2"))
}
