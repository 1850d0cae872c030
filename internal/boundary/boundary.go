// Package boundary tracks how much of a tenant's claim set is currently
// served from immutable segments versus the mutable WAL delta. The
// atomic-counter + narrow-mutex shape mirrors the started/draining
// bookkeeping in the teacher's internal/service/trace/buffer.go.
package boundary

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is one state of the promotion boundary.
type State string

const (
	ReplayOnly State = "replay_only"
	SegmentBasePlusWALDelta State = "segment_base_plus_wal_delta"
	SegmentBaseFullyPromoted State = "segment_base_fully_promoted"
)

// Tracker holds one tenant's boundary state and the monotonic transition
// counters exposed on /debug/storage-visibility and /metrics. Transitions
// are monotonic (replay_only → plus_delta → fully_promoted) except for
// fallback, which is reachable from any state.
type Tracker struct {
	mu sync.Mutex
	state State

	advanceToDelta atomic.Uint64
	advanceToPromoted atomic.Uint64
	fallbackActivation atomic.Uint64
	fallbackReasons sync.Map // reason string -> *atomic.Uint64
}

// New returns a Tracker starting in replay_only, the state every tenant is
// in immediately after snapshot+WAL replay and before any segment has been
// published.
func New() *Tracker {
	return &Tracker{state: ReplayOnly}
}

// State returns the current boundary state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AdvanceToSegmentBasePlusDelta transitions replay_only → plus_delta on
// first verified segment publish. Returns an error if called from any other
// state (callers should treat that as a logic bug, not a user-facing fault).
func (t *Tracker) AdvanceToSegmentBasePlusDelta() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ReplayOnly {
		return fmt.Errorf("boundary: cannot advance to %s from %s", SegmentBasePlusWALDelta, t.state)
	}
	t.state = SegmentBasePlusWALDelta
	t.advanceToDelta.Add(1)
	return nil
}

// AdvanceToFullyPromoted transitions plus_delta → fully_promoted on
// compaction absorbing the WAL delta entirely.
func (t *Tracker) AdvanceToFullyPromoted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SegmentBasePlusWALDelta {
		return fmt.Errorf("boundary: cannot advance to %s from %s", SegmentBaseFullyPromoted, t.state)
	}
	t.state = SegmentBaseFullyPromoted
	t.advanceToPromoted.Add(1)
	return nil
}

// FallbackToReplayOnly is reachable from any state on manifest checksum
// failure. It is the one non-monotonic transition.
func (t *Tracker) FallbackToReplayOnly(reason string) {
	t.mu.Lock()
	t.state = ReplayOnly
	t.mu.Unlock()

	t.fallbackActivation.Add(1)
	counter, _ := t.fallbackReasons.LoadOrStore(reason, new(atomic.Uint64))
	counter.(*atomic.Uint64).Add(1) //nolint:forcetypeassert // only this type is ever stored
}

// Counters reports the transition counters exposed on the debug surface:
// segment_fallback_activation_total (with reason label) plus the two
// forward-advance counters.
type Counters struct {
	AdvanceToDelta uint64
	AdvanceToPromoted uint64
	FallbackActivation uint64
	FallbackReasons map[string]uint64
}

func (t *Tracker) Counters() Counters {
	reasons := make(map[string]uint64)
	t.fallbackReasons.Range(func(key, value any) bool {
		reasons[key.(string)] = value.(*atomic.Uint64).Load() //nolint:forcetypeassert // only this type is ever stored
		return true
	})
	return Counters{
		AdvanceToDelta: t.advanceToDelta.Load(),
		AdvanceToPromoted: t.advanceToPromoted.Load(),
		FallbackActivation: t.fallbackActivation.Load(),
		FallbackReasons: reasons,
	}
}
