package segment

import "sort"

// Tier buckets input segments by size order so small, recently-written
// segments merge together before touching larger, older ones — the
// tiered-compaction strategy common to LSM-like storage engines.
type Tier struct {
	Level int
	Segments []Info
}

// Plan is one proposed merge: the segments to combine into a single
// output segment at the next tier up.
type Plan struct {
	Tier int
	Inputs []Info
}

// PlannerConfig bounds a single compaction plan
// segment.max_segment_size / segment.max_segments_per_tier.
type PlannerConfig struct {
	MaxInputs int // max segments merged into one plan
	MaxSegmentsPerTier int // a tier beyond this size is eligible for compaction
}

// PlanCompaction deterministically selects merge candidates from a
// manifest: one plan for every tier that exceeds MaxSegmentsPerTier, made
// of that tier's oldest segments and capped at MaxInputs. Given the same
// manifest and config, PlanCompaction always returns the same result.
func PlanCompaction(m *Manifest, cfg PlannerConfig) []Plan {
	if m == nil || len(m.Segments) == 0 {
		return nil
	}
	if cfg.MaxInputs <= 0 {
		cfg.MaxInputs = 8
	}
	if cfg.MaxSegmentsPerTier <= 0 {
		cfg.MaxSegmentsPerTier = 4
	}

	tiers := groupByTier(m.Segments)

	var plans []Plan
	for _, tier := range tiers {
		if len(tier.Segments) <= cfg.MaxSegmentsPerTier {
			continue
		}
		segs := make([]Info, len(tier.Segments))
		copy(segs, tier.Segments)
		sort.Slice(segs, func(i, j int) bool { return segs[i].CreatedAt.Before(segs[j].CreatedAt) })

		n := len(segs)
		if n > cfg.MaxInputs {
			n = cfg.MaxInputs
		}
		plans = append(plans, Plan{Tier: tier.Level, Inputs: segs[:n]})
	}
	return plans
}

func groupByTier(segments []Info) []Tier {
	byLevel := map[int][]Info{}
	for _, s := range segments {
		byLevel[s.Tier] = append(byLevel[s.Tier], s)
	}
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	tiers := make([]Tier, 0, len(levels))
	for _, l := range levels {
		tiers = append(tiers, Tier{Level: l, Segments: byLevel[l]})
	}
	return tiers
}

// NextTier returns the output tier for a merge of inputs at tier `from`.
func NextTier(from int) int { return from + 1 }
