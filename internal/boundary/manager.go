package boundary

import "sync"

// Manager lazily creates one Tracker per tenant on first access, mirroring
// internal/ann.Manager's per-tenant indexFor pattern.
type Manager struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*Tracker)}
}

// Tracker returns the Tracker for tenantID, creating one in replay_only if
// this is the tenant's first access.
func (m *Manager) Tracker(tenantID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[tenantID]
	if !ok {
		t = New()
		m.trackers[tenantID] = t
	}
	return t
}

// State is a convenience wrapper returning tenantID's current state
// without creating a tracker when none exists yet.
func (m *Manager) State(tenantID string) State {
	m.mu.Lock()
	t, ok := m.trackers[tenantID]
	m.mu.Unlock()
	if !ok {
		return ReplayOnly
	}
	return t.State()
}

// All returns a snapshot of every tenant's state, for the
// /debug/storage-visibility surface.
func (m *Manager) All() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.trackers))
	for tenantID, t := range m.trackers {
		out[tenantID] = t.State()
	}
	return out
}
