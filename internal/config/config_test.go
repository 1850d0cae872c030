package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
}

func TestEnvDurationNotUsedForMillis(t *testing.T) {
	// DASH's millisecond knobs (e.g. wal.sync_interval_ms) are plain ints,
	// not time.Duration strings, so envInt is exercised instead.
	t.Setenv("TEST_MS", "1500")
	v, err := envInt("TEST_MS", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500, v)
	assert.Equal(t, 1500*time.Millisecond, time.Duration(v)*time.Millisecond)
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.WAL.SyncEveryRecords)
	assert.Equal(t, 32, cfg.Transport.Workers)
	assert.Equal(t, 32*4, cfg.Transport.QueueCapacity)
	assert.Equal(t, "leader_only", cfg.Router.ReadPreference)
	assert.Equal(t, []string{"*"}, cfg.Auth.AllowedTenants)
}

func TestLoadFailsOnInvalidInt(t *testing.T) {
	t.Setenv("DASH_TRANSPORT_WORKERS", "abc")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASH_TRANSPORT_WORKERS")
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("DASH_TRANSPORT_WORKERS", "abc")
	t.Setenv("DASH_ANN_MAX_NEIGHBORS_BASE", "xyz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASH_TRANSPORT_WORKERS")
	assert.Contains(t, err.Error(), "DASH_ANN_MAX_NEIGHBORS_BASE")
}

func TestValidateRejectsBadReadPreference(t *testing.T) {
	cfg := Config{
		WAL:        WAL{SyncEveryRecords: 1, AppendBufferRecords: 1},
		Checkpoint: Checkpoint{MaxWALRecords: 1, MaxWALBytes: 1},
		Transport:  Transport{Workers: 1, QueueCapacity: 1},
		ANN:        ANN{MaxNeighborsBase: 1, MaxNeighborsUpper: 1, SearchExpansionFactor: 1, SearchExpansionMin: 1, SearchExpansionMax: 1},
		Segment:    Segment{MaxSegmentSize: 1, MaxSegmentsPerTier: 1},
		Router:     Router{ReadPreference: "bogus", PlacementReloadIntervalMS: 1},
		Auth:       Auth{AllowedTenants: []string{"*"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASH_ROUTER_READ_PREFERENCE")
}

func TestParseAuthKeys(t *testing.T) {
	keys := parseAuthKeys("k1:secret1:tenant-a|tenant-b,k2:secret2")
	require.Len(t, keys, 2)
	assert.Equal(t, "k1", keys[0].ID)
	assert.Equal(t, "secret1", keys[0].Secret)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, keys[0].Scopes)
	assert.Equal(t, "k2", keys[1].ID)
	assert.Nil(t, keys[1].Scopes)
}

func TestParseKeyedSecrets(t *testing.T) {
	secrets := parseKeyedSecrets("kid1:s1,kid2:s2")
	assert.Equal(t, "s1", secrets["kid1"])
	assert.Equal(t, "s2", secrets["kid2"])
}

func TestLoad_AllowedTenantsFromEnv(t *testing.T) {
	t.Setenv("DASH_AUTH_ALLOWED_TENANTS", "tenant-a, tenant-b")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, cfg.Auth.AllowedTenants)
}

func TestLoad_MirrorRequiresBackingURL(t *testing.T) {
	t.Setenv("DASH_MIRROR_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASH_MIRROR_ENABLED")
}
