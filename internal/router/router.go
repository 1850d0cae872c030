// Package router implements the placement router (C8, spec §4.7): a
// tenant+entity -> shard mapping with leader/follower role enforcement,
// epoch-aware admission, and live reload of the placement table.
//
// The reload-loop shape (ticker + context cancellation + observable
// counters) is grounded on internal/wal.WAL.syncLoop.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Role is a shard's role for one node.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// ReadPreference governs which roles read admission accepts.
type ReadPreference string

const (
	ReadLeaderOnly    ReadPreference = "leader_only"
	ReadPreferFollower ReadPreference = "prefer_follower"
	ReadAnyHealthy    ReadPreference = "any_healthy"
)

// Entry is one (tenant_id, shard_id) placement row.
type Entry struct {
	TenantID string `json:"tenant_id"`
	ShardID  string `json:"shard_id"`
	Epoch    uint64 `json:"epoch"`
	NodeID   string `json:"node_id"`
	Role     Role   `json:"role"`
	Health   string `json:"health"` // "healthy" | anything else treated unhealthy
}

func (e Entry) healthy() bool { return e.Health == "healthy" }

// Table is the placement table shape on disk: a flat list of entries. The
// router keeps the latest epoch per (tenant_id, shard_id) and a
// consistent-hash ring of shard ids per tenant built from the entries
// present, so callers never need more than ShardID/AdmitWrite/AdmitRead.
type Table struct {
	Entries []Entry `json:"entries"`
}

// ErrRouteUnavailable indicates no admissible node for this shard/role.
var ErrRouteUnavailable = fmt.Errorf("router: route unavailable")

const virtualNodesPerShard = 100

// Router holds the current placement table and serves shard resolution
// and admission checks. Safe for concurrent use; reload swaps an
// immutable snapshot under a mutex.
type Router struct {
	logger      *slog.Logger
	localNodeID string
	readPref    ReadPreference
	path        string

	mu    sync.RWMutex
	byKey map[tenantShard][]Entry // latest-epoch entries for this shard, one per node
	rings map[string]*ring        // tenant_id -> consistent-hash ring of shard ids

	reloadAttempt atomic.Uint64
	reloadFailure atomic.Uint64
	reloadSuccess atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type tenantShard struct {
	tenantID string
	shardID  string
}

// Config configures a Router (router.* in spec §6.4).
type Config struct {
	PlacementFile          string
	LocalNodeID            string
	ReadPreference         ReadPreference
	ReloadInterval         time.Duration
}

// New loads the placement file (if any) and returns a Router. An empty
// PlacementFile is valid: the router has no entries, Start launches no
// reload loop, and every admission check returns ErrRouteUnavailable.
func New(logger *slog.Logger, cfg Config) (*Router, error) {
	if cfg.ReadPreference == "" {
		cfg.ReadPreference = ReadLeaderOnly
	}
	r := &Router{
		logger:      logger,
		localNodeID: cfg.LocalNodeID,
		readPref:    cfg.ReadPreference,
		path:        cfg.PlacementFile,
		byKey:       make(map[tenantShard][]Entry),
		rings:       make(map[string]*ring),
	}
	if cfg.PlacementFile != "" {
		if err := r.reload(); err != nil {
			return nil, fmt.Errorf("router: initial load: %w", err)
		}
	}
	return r, nil
}

// Start launches the bounded-interval live reload loop. No-op if
// PlacementFile is empty.
func (r *Router) Start(ctx context.Context, interval time.Duration) {
	if r.path == "" {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.reloadLoop(loopCtx, interval)
}

// Stop halts the reload loop, if running.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Router) reloadLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reload(); err != nil {
				r.logger.Warn("router: placement reload failed", "error", err)
			}
		}
	}
}

func (r *Router) reload() error {
	r.reloadAttempt.Add(1)
	data, err := os.ReadFile(r.path)
	if err != nil {
		r.reloadFailure.Add(1)
		return fmt.Errorf("router: read placement file: %w", err)
	}
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		r.reloadFailure.Add(1)
		return fmt.Errorf("router: parse placement file: %w", err)
	}

	byKey := make(map[tenantShard][]Entry)
	latestEpoch := make(map[tenantShard]uint64)
	for _, e := range table.Entries {
		key := tenantShard{e.TenantID, e.ShardID}
		if e.Epoch > latestEpoch[key] {
			latestEpoch[key] = e.Epoch
		}
	}
	for _, e := range table.Entries {
		key := tenantShard{e.TenantID, e.ShardID}
		if e.Epoch == latestEpoch[key] {
			byKey[key] = append(byKey[key], e)
		}
	}

	rings := make(map[string]*ring)
	shardsByTenant := make(map[string]map[string]bool)
	for key := range byKey {
		if shardsByTenant[key.tenantID] == nil {
			shardsByTenant[key.tenantID] = make(map[string]bool)
		}
		shardsByTenant[key.tenantID][key.shardID] = true
	}
	for tenantID, shards := range shardsByTenant {
		shardIDs := make([]string, 0, len(shards))
		for s := range shards {
			shardIDs = append(shardIDs, s)
		}
		sort.Strings(shardIDs)
		rings[tenantID] = newRing(shardIDs, virtualNodesPerShard)
	}

	r.mu.Lock()
	r.byKey = byKey
	r.rings = rings
	r.mu.Unlock()

	r.reloadSuccess.Add(1)
	r.logger.Info("router: placement reloaded", "entries", len(table.Entries))
	return nil
}

// ShardFor computes the shard id for (tenantID, entityID) via the
// tenant's consistent-hash ring. Returns "" if the tenant has no known
// shards (placement table not yet loaded, or reload pending).
func (r *Router) ShardFor(tenantID, entityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring, ok := r.rings[tenantID]
	if !ok {
		return ""
	}
	return ring.shardFor(entityID)
}

// AdmitWrite returns nil if the local node is the healthy leader for the
// shard governing (tenantID, entityID). Otherwise ErrRouteUnavailable.
func (r *Router) AdmitWrite(tenantID, entityID string) error {
	shardID := r.ShardFor(tenantID, entityID)
	if shardID == "" {
		return ErrRouteUnavailable
	}
	r.mu.RLock()
	entries := r.byKey[tenantShard{tenantID, shardID}]
	r.mu.RUnlock()

	for _, e := range entries {
		if e.Role == RoleLeader && e.healthy() && e.NodeID == r.localNodeID {
			return nil
		}
	}
	return ErrRouteUnavailable
}

// AdmitRead returns nil if the local node satisfies the configured
// read_preference for the shard governing (tenantID, entityID).
func (r *Router) AdmitRead(tenantID, entityID string) error {
	shardID := r.ShardFor(tenantID, entityID)
	if shardID == "" {
		return ErrRouteUnavailable
	}
	r.mu.RLock()
	entries := r.byKey[tenantShard{tenantID, shardID}]
	r.mu.RUnlock()

	var local *Entry
	for i := range entries {
		if entries[i].NodeID == r.localNodeID {
			local = &entries[i]
			break
		}
	}
	if local == nil || !local.healthy() {
		return ErrRouteUnavailable
	}

	switch r.readPref {
	case ReadLeaderOnly:
		if local.Role == RoleLeader {
			return nil
		}
	case ReadPreferFollower, ReadAnyHealthy:
		return nil
	}
	return ErrRouteUnavailable
}

// Snapshot describes one shard's placement, for /debug/placement.
type Snapshot struct {
	TenantID string  `json:"tenant_id"`
	ShardID  string  `json:"shard_id"`
	Entries  []Entry `json:"entries"`
}

// Snapshots returns every known shard's current placement.
func (r *Router) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byKey))
	for key, entries := range r.byKey {
		out = append(out, Snapshot{TenantID: key.tenantID, ShardID: key.shardID, Entries: entries})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ShardID < out[j].ShardID
	})
	return out
}

// ReloadCounters reports the observable reload counters for /metrics.
type ReloadCounters struct {
	Attempt uint64
	Success uint64
	Failure uint64
}

func (r *Router) ReloadCounters() ReloadCounters {
	return ReloadCounters{
		Attempt: r.reloadAttempt.Load(),
		Success: r.reloadSuccess.Load(),
		Failure: r.reloadFailure.Load(),
	}
}

// ring is a consistent-hash ring over shard ids with virtual nodes.
type ring struct {
	sortedHashes []uint32
	hashToShard  map[uint32]string
}

func newRing(shardIDs []string, virtualNodes int) *ring {
	r := &ring{hashToShard: make(map[uint32]string)}
	for _, shardID := range shardIDs {
		for v := 0; v < virtualNodes; v++ {
			h := hashKey(fmt.Sprintf("%s#%d", shardID, v))
			r.hashToShard[h] = shardID
			r.sortedHashes = append(r.sortedHashes, h)
		}
	}
	sort.Slice(r.sortedHashes, func(i, j int) bool { return r.sortedHashes[i] < r.sortedHashes[j] })
	return r
}

func (r *ring) shardFor(key string) string {
	if len(r.sortedHashes) == 0 {
		return ""
	}
	h := hashKey(key)
	idx := sort.Search(len(r.sortedHashes), func(i int) bool { return r.sortedHashes[i] >= h })
	if idx == len(r.sortedHashes) {
		idx = 0
	}
	return r.hashToShard[r.sortedHashes[idx]]
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
