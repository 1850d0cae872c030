package store

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/dashdb/dash/internal/model"
)

// indexes holds one tenant's entity/embedding-id/temporal indexes. Roaring
// operates on uint32 ordinals, so each claim_id is assigned a stable,
// never-reused ordinal on first insert; bitmaps key on that ordinal and are
// translated back to claim_ids at the index boundary. Grounded on the
// bluge/roaring pairing used for inverted indexes in other_examples/, and
// on conflicts/scorer.go's pair-cache dedup discipline for keeping derived
// structures consistent with the source-of-truth map.
type indexes struct {
	ordinalOf map[string]uint32
	claimOf []string // ordinal -> claim_id

	entity map[string]*roaring.Bitmap
	embeddingID map[string]*roaring.Bitmap

	// temporal is kept sorted by eventTime for range-scan support over an
	// ordered structure keyed by event_time_unix. A production system
	// would use a B-tree; a sorted slice is adequate at in-memory,
	// single-tenant scale and keeps the dependency surface small.
	temporal []temporalEntry
}

type temporalEntry struct {
	eventTime int64
	ordinal uint32
}

func newIndexes() *indexes {
	return &indexes{
		ordinalOf: make(map[string]uint32),
		entity: make(map[string]*roaring.Bitmap),
		embeddingID: make(map[string]*roaring.Bitmap),
	}
}

func (x *indexes) ordinalFor(claimID string) uint32 {
	if ord, ok := x.ordinalOf[claimID]; ok {
		return ord
	}
	ord := uint32(len(x.claimOf)) //nolint:gosec // bounded by in-memory claim count
	x.ordinalOf[claimID] = ord
	x.claimOf = append(x.claimOf, claimID)
	return ord
}

func (x *indexes) indexEntities(c model.Claim, ord uint32) {
	for _, e := range c.Entities {
		bm, ok := x.entity[e]
		if !ok {
			bm = roaring.New()
			x.entity[e] = bm
		}
		bm.Add(ord)
	}
}

func (x *indexes) removeEntities(c model.Claim) {
	ord, ok := x.ordinalOf[c.ClaimID]
	if !ok {
		return
	}
	for _, e := range c.Entities {
		if bm, ok := x.entity[e]; ok {
			bm.Remove(ord)
		}
	}
}

func (x *indexes) indexEmbeddingIDs(c model.Claim, ord uint32) {
	for _, id := range c.EmbeddingIDs {
		bm, ok := x.embeddingID[id]
		if !ok {
			bm = roaring.New()
			x.embeddingID[id] = bm
		}
		bm.Add(ord)
	}
}

func (x *indexes) removeEmbeddingIDs(c model.Claim) {
	ord, ok := x.ordinalOf[c.ClaimID]
	if !ok {
		return
	}
	for _, id := range c.EmbeddingIDs {
		if bm, ok := x.embeddingID[id]; ok {
			bm.Remove(ord)
		}
	}
}

func (x *indexes) indexTemporal(c model.Claim, ord uint32) {
	if c.EventTimeUnix == nil {
		return
	}
	entry := temporalEntry{eventTime: *c.EventTimeUnix, ordinal: ord}
	i := sort.Search(len(x.temporal), func(i int) bool { return x.temporal[i].eventTime >= entry.eventTime })
	x.temporal = append(x.temporal, temporalEntry{})
	copy(x.temporal[i+1:], x.temporal[i:])
	x.temporal[i] = entry
}

func (x *indexes) removeTemporal(c model.Claim) {
	if c.EventTimeUnix == nil {
		return
	}
	ord, ok := x.ordinalOf[c.ClaimID]
	if !ok {
		return
	}
	for i, e := range x.temporal {
		if e.ordinal == ord && e.eventTime == *c.EventTimeUnix {
			x.temporal = append(x.temporal[:i], x.temporal[i+1:]...)
			return
		}
	}
}

// entityUnion returns the bitmap of ordinals matching any of the given
// entities (filter semantics: entity_filters is a match-any list).
func (x *indexes) entityUnion(entities []string) *roaring.Bitmap {
	out := roaring.New()
	for _, e := range entities {
		if bm, ok := x.entity[e]; ok {
			out.Or(bm)
		}
	}
	return out
}

// embeddingIDUnion returns the bitmap of ordinals matching any of the given
// embedding_ids.
func (x *indexes) embeddingIDUnion(ids []string) *roaring.Bitmap {
	out := roaring.New()
	for _, id := range ids {
		if bm, ok := x.embeddingID[id]; ok {
			out.Or(bm)
		}
	}
	return out
}

// temporalRange returns the bitmap of ordinals whose event_time_unix falls
// in [from, to] inclusive. Claims with no event time are never included,
// matching Stage 3 / testable property 7.
func (x *indexes) temporalRange(from, to int64) *roaring.Bitmap {
	out := roaring.New()
	lo := sort.Search(len(x.temporal), func(i int) bool { return x.temporal[i].eventTime >= from })
	for i := lo; i < len(x.temporal) && x.temporal[i].eventTime <= to; i++ {
		out.Add(x.temporal[i].ordinal)
	}
	return out
}

// claimIDs translates a bitmap of ordinals back to claim_ids.
func (x *indexes) claimIDs(bm *roaring.Bitmap) []string {
	it := bm.Iterator()
	out := make([]string, 0, bm.GetCardinality())
	for it.HasNext() {
		ord := it.Next()
		if int(ord) < len(x.claimOf) {
			out = append(out, x.claimOf[ord])
		}
	}
	return out
}
