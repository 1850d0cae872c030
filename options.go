package dash

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	addr        string
	walDir      string
	segmentDir  string
	logger      *slog.Logger
	version     string
	localNodeID string
}

// WithAddr overrides the HTTP listen address from config (DASH_TRANSPORT_ADDR).
func WithAddr(addr string) Option {
	return func(o *resolvedOptions) { o.addr = addr }
}

// WithWALDir overrides the write-ahead log directory from config (DASH_WAL_DIR).
func WithWALDir(dir string) Option {
	return func(o *resolvedOptions) { o.walDir = dir }
}

// WithSegmentDir overrides the segment root directory from config (DASH_SEGMENT_DIR).
func WithSegmentDir(dir string) Option {
	return func(o *resolvedOptions) { o.segmentDir = dir }
}

// WithLogger sets the structured logger for the App. If unset, the default
// slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported on /health and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithLocalNodeID overrides the placement router's local node id from
// config (DASH_ROUTER_LOCAL_NODE_ID).
func WithLocalNodeID(id string) Option {
	return func(o *resolvedOptions) { o.localNodeID = id }
}
