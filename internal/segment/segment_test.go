package segment

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dashdb/dash/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWritePublishLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testLogger())

	claims := []model.Claim{{ClaimID: "c1", TenantID: "t1", CanonicalText: "hello", Confidence: 0.9}}
	info, err := w.WriteSegment("t1", "seg-0001", claims, nil, nil)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	m, err := w.Publish("t1", []Info{info})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if m.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", m.Generation)
	}

	loaded, err := Load(dir, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || len(loaded.Segments) != 1 {
		t.Fatalf("expected 1 segment in loaded manifest, got %+v", loaded)
	}

	ids, err := ClaimIDSet(dir, loaded)
	if err != nil {
		t.Fatalf("ClaimIDSet: %v", err)
	}
	if !ids["c1"] {
		t.Fatalf("expected c1 in segment base allow-set")
	}
}

func TestLoadDetectsTamperedSegment(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testLogger())

	claims := []model.Claim{{ClaimID: "c1", TenantID: "t1", CanonicalText: "hello", Confidence: 0.9}}
	info, err := w.WriteSegment("t1", "seg-0001", claims, nil, nil)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if _, err := w.Publish("t1", []Info{info}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	segPath := Dir(dir, "t1") + "/" + info.Path
	if err := os.WriteFile(segPath, []byte(`{"claims":[{"claim_id":"tampered"}]}`), 0o640); err != nil {
		t.Fatalf("tamper write: %v", err)
	}

	if _, err := Load(dir, "t1"); err == nil {
		t.Fatalf("expected checksum mismatch error after tampering")
	}
}

func TestPublishRetainsPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testLogger())

	info1, _ := w.WriteSegment("t1", "seg-0001", []model.Claim{{ClaimID: "c1", TenantID: "t1", Confidence: 0.5}}, nil, nil)
	if _, err := w.Publish("t1", []Info{info1}); err != nil {
		t.Fatalf("publish 1: %v", err)
	}

	info2, _ := w.WriteSegment("t1", "seg-0002", []model.Claim{{ClaimID: "c2", TenantID: "t1", Confidence: 0.5}}, nil, nil)
	m2, err := w.Publish("t1", []Info{info1, info2})
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	if m2.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", m2.Generation)
	}

	if _, err := os.Stat(prevManifestPath(Dir(dir, "t1"))); err != nil {
		t.Fatalf("expected previous manifest generation retained: %v", err)
	}
}

func TestPlanCompactionDeterministic(t *testing.T) {
	m := &Manifest{Segments: []Info{
		{ID: "a", Tier: 0}, {ID: "b", Tier: 0}, {ID: "c", Tier: 0}, {ID: "d", Tier: 0}, {ID: "e", Tier: 0},
	}}
	cfg := PlannerConfig{MaxInputs: 3, MaxSegmentsPerTier: 2}

	p1 := PlanCompaction(m, cfg)
	p2 := PlanCompaction(m, cfg)
	if len(p1) != len(p2) {
		t.Fatalf("plan not deterministic in length")
	}
	for i := range p1 {
		if len(p1[i].Inputs) != len(p2[i].Inputs) {
			t.Fatalf("plan not deterministic in inputs")
		}
	}
	if len(p1) == 0 {
		t.Fatalf("expected at least one plan for a tier over threshold")
	}
	if len(p1[0].Inputs) > cfg.MaxInputs {
		t.Fatalf("plan exceeded MaxInputs")
	}
}

func TestPlanCompactionBelowThresholdIsEmpty(t *testing.T) {
	m := &Manifest{Segments: []Info{{ID: "a", Tier: 0}, {ID: "b", Tier: 0}}}
	cfg := PlannerConfig{MaxInputs: 8, MaxSegmentsPerTier: 4}
	if plans := PlanCompaction(m, cfg); len(plans) != 0 {
		t.Fatalf("expected no plans below threshold, got %d", len(plans))
	}
}
