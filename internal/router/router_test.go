package router

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePlacement(t *testing.T, entries []Entry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "placement.json")
	data, err := json.Marshal(Table{Entries: entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestAdmitWriteRequiresLocalHealthyLeader(t *testing.T) {
	path := writePlacement(t, []Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-a", Role: RoleLeader, Health: "healthy"},
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-b", Role: RoleFollower, Health: "healthy"},
	})
	r, err := New(slog.Default(), Config{PlacementFile: path, LocalNodeID: "node-b"})
	require.NoError(t, err)

	shardID := r.ShardFor("t1", "entity-1")
	require.NotEmpty(t, shardID)

	// Force shard resolution to the single known shard for this test by
	// reusing the same entity (ring only has one shard to land on).
	err = r.AdmitWrite("t1", "entity-1")
	require.ErrorIs(t, err, ErrRouteUnavailable)
}

func TestFailoverEpochReload(t *testing.T) {
	// S7: epoch 1 leader=node-a, local=node-b -> write unavailable.
	// Epoch 2 leader=node-b -> after reload, write succeeds.
	dir := t.TempDir()
	path := filepath.Join(dir, "placement.json")

	write := func(entries []Entry) {
		data, err := json.Marshal(Table{Entries: entries})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}

	write([]Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-a", Role: RoleLeader, Health: "healthy"},
	})
	r, err := New(slog.Default(), Config{PlacementFile: path, LocalNodeID: "node-b"})
	require.NoError(t, err)

	require.ErrorIs(t, r.AdmitWrite("t1", "s0"), ErrRouteUnavailable)

	write([]Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-a", Role: RoleLeader, Health: "healthy"},
		{TenantID: "t1", ShardID: "s0", Epoch: 2, NodeID: "node-b", Role: RoleLeader, Health: "healthy"},
	})
	require.NoError(t, r.reload())

	ring := r.rings["t1"]
	require.NotNil(t, ring)
	require.NoError(t, r.AdmitWrite("t1", "s0"))
}

func TestReadPreferenceAnyHealthyAcceptsFollower(t *testing.T) {
	path := writePlacement(t, []Entry{
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-a", Role: RoleLeader, Health: "healthy"},
		{TenantID: "t1", ShardID: "s0", Epoch: 1, NodeID: "node-b", Role: RoleFollower, Health: "healthy"},
	})
	r, err := New(slog.Default(), Config{PlacementFile: path, LocalNodeID: "node-b", ReadPreference: ReadAnyHealthy})
	require.NoError(t, err)

	var shardWithLocal string
	for _, s := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if r.ShardFor("t1", s) == "s0" {
			shardWithLocal = s
			break
		}
	}
	require.NotEmpty(t, shardWithLocal)
	require.NoError(t, r.AdmitRead("t1", shardWithLocal))
}

func TestNewWithoutPlacementFileHasNoRoutes(t *testing.T) {
	r, err := New(slog.Default(), Config{LocalNodeID: "node-a"})
	require.NoError(t, err)
	require.ErrorIs(t, r.AdmitWrite("t1", "entity-1"), ErrRouteUnavailable)
}
