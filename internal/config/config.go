// Package config loads and validates application configuration from
// environment variables, following the teacher's accumulated-error
// pattern: every malformed value is collected rather than failing fast on
// the first one, then joined into a single reported error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WAL holds wal.* durability tuning (spec §6.4).
type WAL struct {
	Dir                 string
	SyncEveryRecords    int
	AppendBufferRecords int
	SyncIntervalMS      int
	BackgroundFlushOnly bool
}

// Checkpoint holds checkpoint.* compaction trigger tuning.
type Checkpoint struct {
	MaxWALRecords int
	MaxWALBytes   int64
}

// Transport holds transport.* admission sizing.
type Transport struct {
	Workers       int
	QueueCapacity int
	Addr          string
}

// ANN holds ann.* index tuning.
type ANN struct {
	MaxNeighborsBase    int
	MaxNeighborsUpper   int
	SearchExpansionFactor float64
	SearchExpansionMin    int
	SearchExpansionMax    int
}

// Segment holds segment.* lifecycle tuning.
type Segment struct {
	Dir                 string
	MaxSegmentSize      int64
	MaxSegmentsPerTier  int
	GCMinStaleAgeMS     int64
}

// Router holds router.* placement tuning.
type Router struct {
	PlacementFile          string
	LocalNodeID            string
	ReadPreference         string // leader_only | prefer_follower | any_healthy
	PlacementReloadIntervalMS int
}

// AuthKey is one configured shared key (id:secret[:scope|...]).
type AuthKey struct {
	ID     string
	Secret string
	Scopes []string
}

// Auth holds auth.* credential and scope configuration.
type Auth struct {
	Keys           []AuthKey
	RevokedKeys    []string
	JWTSecrets     map[string]string
	JWTIssuer      string
	JWTAudience    string
	JWTLeewaySecs  int
	JWTRequireExp  bool
	AllowedTenants []string
}

// Audit holds audit.* tamper-evident log configuration.
type Audit struct {
	LogPath string
}

// Config holds all application configuration.
type Config struct {
	WAL        WAL
	Checkpoint Checkpoint
	Transport  Transport
	ANN        ANN
	Segment    Segment
	Router     Router
	Auth       Auth
	Audit      Audit

	LogLevel     string
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	RedisURL string // rate limiter backend; empty disables rate limiting (noop mode)

	MirrorEnabled  bool
	MirrorPostgresURL string
	MirrorQdrantURL   string
	MirrorQdrantAPIKey string
}

// Load reads configuration from environment variables with sensible
// defaults. Missing variables use defaults; only malformed values are
// rejected.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		LogLevel:     envStr("DASH_LOG_LEVEL", "info"),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "dash"),
		RedisURL:     envStr("DASH_REDIS_URL", ""),

		MirrorPostgresURL:  envStr("DASH_MIRROR_POSTGRES_URL", ""),
		MirrorQdrantURL:    envStr("DASH_MIRROR_QDRANT_URL", ""),
		MirrorQdrantAPIKey: envStr("DASH_MIRROR_QDRANT_API_KEY", ""),
	}

	cfg.WAL = WAL{
		Dir:                 envStr("DASH_WAL_DIR", "./data/wal"),
		BackgroundFlushOnly: false,
	}
	cfg.WAL.SyncEveryRecords, errs = collectInt(errs, "DASH_WAL_SYNC_EVERY_RECORDS", 1)
	cfg.WAL.AppendBufferRecords, errs = collectInt(errs, "DASH_WAL_APPEND_BUFFER_RECORDS", 1)
	cfg.WAL.SyncIntervalMS, errs = collectInt(errs, "DASH_WAL_SYNC_INTERVAL_MS", 0)
	cfg.WAL.BackgroundFlushOnly, errs = collectBool(errs, "DASH_WAL_BACKGROUND_FLUSH_ONLY", false)

	cfg.Checkpoint.MaxWALRecords, errs = collectInt(errs, "DASH_CHECKPOINT_MAX_WAL_RECORDS", 100_000)
	var maxWALBytes int
	maxWALBytes, errs = collectInt(errs, "DASH_CHECKPOINT_MAX_WAL_BYTES", 256*1024*1024)
	cfg.Checkpoint.MaxWALBytes = int64(maxWALBytes)

	cfg.Transport.Addr = envStr("DASH_TRANSPORT_ADDR", ":8080")
	cfg.Transport.Workers, errs = collectInt(errs, "DASH_TRANSPORT_WORKERS", 32)
	cfg.Transport.QueueCapacity, errs = collectInt(errs, "DASH_TRANSPORT_QUEUE_CAPACITY", 0) // 0 => workers * queue_factor
	var queueFactor int
	queueFactor, errs = collectInt(errs, "DASH_TRANSPORT_QUEUE_FACTOR", 4)
	if cfg.Transport.QueueCapacity == 0 {
		cfg.Transport.QueueCapacity = cfg.Transport.Workers * queueFactor
	}

	cfg.ANN.MaxNeighborsBase, errs = collectInt(errs, "DASH_ANN_MAX_NEIGHBORS_BASE", 16)
	cfg.ANN.MaxNeighborsUpper, errs = collectInt(errs, "DASH_ANN_MAX_NEIGHBORS_UPPER", 64)
	cfg.ANN.SearchExpansionFactor, errs = collectFloat(errs, "DASH_ANN_SEARCH_EXPANSION_FACTOR", 4.0)
	cfg.ANN.SearchExpansionMin, errs = collectInt(errs, "DASH_ANN_SEARCH_EXPANSION_MIN", 32)
	cfg.ANN.SearchExpansionMax, errs = collectInt(errs, "DASH_ANN_SEARCH_EXPANSION_MAX", 512)

	cfg.Segment.Dir = envStr("DASH_SEGMENT_DIR", "./data/segments")
	var maxSegSize int
	maxSegSize, errs = collectInt(errs, "DASH_SEGMENT_MAX_SEGMENT_SIZE", 64*1024*1024)
	cfg.Segment.MaxSegmentSize = int64(maxSegSize)
	cfg.Segment.MaxSegmentsPerTier, errs = collectInt(errs, "DASH_SEGMENT_MAX_SEGMENTS_PER_TIER", 8)
	var gcMinStale int
	gcMinStale, errs = collectInt(errs, "DASH_SEGMENT_GC_MIN_STALE_AGE_MS", int(10*time.Minute/time.Millisecond))
	cfg.Segment.GCMinStaleAgeMS = int64(gcMinStale)

	cfg.Router.PlacementFile = envStr("DASH_ROUTER_PLACEMENT_FILE", "")
	cfg.Router.LocalNodeID = envStr("DASH_ROUTER_LOCAL_NODE_ID", "")
	cfg.Router.ReadPreference = envStr("DASH_ROUTER_READ_PREFERENCE", "leader_only")
	cfg.Router.PlacementReloadIntervalMS, errs = collectInt(errs, "DASH_ROUTER_PLACEMENT_RELOAD_INTERVAL_MS", 5000)

	cfg.Auth.Keys = parseAuthKeys(envStr("DASH_AUTH_KEYS", ""))
	cfg.Auth.RevokedKeys = envStrSlice("DASH_AUTH_REVOKED_KEYS", nil)
	cfg.Auth.JWTSecrets = parseKeyedSecrets(envStr("DASH_AUTH_JWT_SECRETS", ""))
	cfg.Auth.JWTIssuer = envStr("DASH_AUTH_JWT_ISSUER", "dash")
	cfg.Auth.JWTAudience = envStr("DASH_AUTH_JWT_AUDIENCE", "dash")
	cfg.Auth.JWTLeewaySecs, errs = collectInt(errs, "DASH_AUTH_JWT_LEEWAY_SECS", 30)
	cfg.Auth.JWTRequireExp, errs = collectBool(errs, "DASH_AUTH_JWT_REQUIRE_EXP", true)
	cfg.Auth.AllowedTenants = envStrSlice("DASH_AUTH_ALLOWED_TENANTS", []string{"*"})

	cfg.Audit.LogPath = envStr("DASH_AUDIT_LOG_PATH", "./data/audit.jsonl")

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.MirrorEnabled, errs = collectBool(errs, "DASH_MIRROR_ENABLED", false)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseAuthKeys parses "id:secret:scope1|scope2,id2:secret2" into AuthKey
// entries. A missing scope segment leaves Scopes nil (authz treats that
// as unrestricted within the service allowlist).
func parseAuthKeys(v string) []AuthKey {
	if v == "" {
		return nil
	}
	var out []AuthKey
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			continue
		}
		k := AuthKey{ID: parts[0], Secret: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			k.Scopes = strings.Split(parts[2], "|")
		}
		out = append(out, k)
	}
	return out
}

// parseKeyedSecrets parses "kid1:secret1,kid2:secret2" into a map.
func parseKeyedSecrets(v string) map[string]string {
	out := make(map[string]string)
	if v == "" {
		return out
	}
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kid, secret, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		out[kid] = secret
	}
	return out
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.WAL.SyncEveryRecords <= 0 {
		errs = append(errs, errors.New("config: DASH_WAL_SYNC_EVERY_RECORDS must be positive"))
	}
	if c.WAL.AppendBufferRecords <= 0 {
		errs = append(errs, errors.New("config: DASH_WAL_APPEND_BUFFER_RECORDS must be positive"))
	}
	if c.WAL.SyncIntervalMS < 0 {
		errs = append(errs, errors.New("config: DASH_WAL_SYNC_INTERVAL_MS must not be negative"))
	}
	if c.Checkpoint.MaxWALRecords <= 0 {
		errs = append(errs, errors.New("config: DASH_CHECKPOINT_MAX_WAL_RECORDS must be positive"))
	}
	if c.Checkpoint.MaxWALBytes <= 0 {
		errs = append(errs, errors.New("config: DASH_CHECKPOINT_MAX_WAL_BYTES must be positive"))
	}
	if c.Transport.Workers <= 0 {
		errs = append(errs, errors.New("config: DASH_TRANSPORT_WORKERS must be positive"))
	}
	if c.Transport.QueueCapacity <= 0 {
		errs = append(errs, errors.New("config: DASH_TRANSPORT_QUEUE_CAPACITY must be positive"))
	}
	if c.ANN.MaxNeighborsBase <= 0 || c.ANN.MaxNeighborsUpper < c.ANN.MaxNeighborsBase {
		errs = append(errs, errors.New("config: DASH_ANN_MAX_NEIGHBORS_UPPER must be >= DASH_ANN_MAX_NEIGHBORS_BASE > 0"))
	}
	if c.ANN.SearchExpansionMin <= 0 || c.ANN.SearchExpansionMax < c.ANN.SearchExpansionMin {
		errs = append(errs, errors.New("config: DASH_ANN_SEARCH_EXPANSION_MAX must be >= DASH_ANN_SEARCH_EXPANSION_MIN > 0"))
	}
	if c.ANN.SearchExpansionFactor <= 0 {
		errs = append(errs, errors.New("config: DASH_ANN_SEARCH_EXPANSION_FACTOR must be positive"))
	}
	if c.Segment.MaxSegmentSize <= 0 {
		errs = append(errs, errors.New("config: DASH_SEGMENT_MAX_SEGMENT_SIZE must be positive"))
	}
	if c.Segment.MaxSegmentsPerTier <= 0 {
		errs = append(errs, errors.New("config: DASH_SEGMENT_MAX_SEGMENTS_PER_TIER must be positive"))
	}
	switch c.Router.ReadPreference {
	case "leader_only", "prefer_follower", "any_healthy":
	default:
		errs = append(errs, fmt.Errorf("config: DASH_ROUTER_READ_PREFERENCE %q must be one of leader_only, prefer_follower, any_healthy", c.Router.ReadPreference))
	}
	if c.Router.PlacementReloadIntervalMS <= 0 {
		errs = append(errs, errors.New("config: DASH_ROUTER_PLACEMENT_RELOAD_INTERVAL_MS must be positive"))
	}
	if c.Auth.JWTLeewaySecs < 0 {
		errs = append(errs, errors.New("config: DASH_AUTH_JWT_LEEWAY_SECS must not be negative"))
	}
	if len(c.Auth.AllowedTenants) == 0 {
		errs = append(errs, errors.New("config: DASH_AUTH_ALLOWED_TENANTS must not be empty"))
	}
	if c.MirrorEnabled && c.MirrorPostgresURL == "" && c.MirrorQdrantURL == "" {
		errs = append(errs, errors.New("config: DASH_MIRROR_ENABLED requires DASH_MIRROR_POSTGRES_URL or DASH_MIRROR_QDRANT_URL"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid float", key, v)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectFloat(errs []error, key string, fallback float64) (float64, []error) {
	v, err := envFloat(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// envStrSlice reads a comma-separated env var into a string slice.
// Returns fallback if the env var is empty or unset.
func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
