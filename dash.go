// Package dash is the public entrypoint for embedding the evidence-first
// retrieval engine.
//
//	app, err := dash.New(
//	    dash.WithVersion(version),
//	    dash.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: dash (root) imports
// internal/*, but internal/* never imports dash (root).
package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dashdb/dash/internal/ann"
	"github.com/dashdb/dash/internal/auth"
	"github.com/dashdb/dash/internal/authz"
	"github.com/dashdb/dash/internal/boundary"
	"github.com/dashdb/dash/internal/config"
	"github.com/dashdb/dash/internal/extract"
	"github.com/dashdb/dash/internal/lexical"
	"github.com/dashdb/dash/internal/mirror"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/planner"
	"github.com/dashdb/dash/internal/ratelimit"
	"github.com/dashdb/dash/internal/router"
	"github.com/dashdb/dash/internal/segment"
	"github.com/dashdb/dash/internal/server"
	"github.com/dashdb/dash/internal/snapshot"
	"github.com/dashdb/dash/internal/store"
	"github.com/dashdb/dash/internal/telemetry"
	"github.com/dashdb/dash/internal/wal"
)

// App is the server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	wal        *wal.WAL
	store      *store.Store
	router     *router.Router
	mirror     *mirror.Mirror
	redis      *redis.Client
	audit      *server.AuditLog
	checkpoint *snapshot.Trigger
	snapDir    string

	segWriter    *segment.Writer
	segGCMinStale time.Duration

	srv *server.Server

	otelShutdown telemetry.Shutdown

	checkpointCancel context.CancelFunc
	checkpointDone   chan struct{}
}

// New wires every subsystem and returns a ready-to-run App. It replays
// durable state from the snapshot+WAL and, when a placement file is
// configured, starts the router's reload loop; it does not start the
// checkpoint loop or accept HTTP connections — call Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production deployments won't
	// have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.addr != "" {
		cfg.Transport.Addr = o.addr
	}
	if o.walDir != "" {
		cfg.WAL.Dir = o.walDir
	}
	if o.segmentDir != "" {
		cfg.Segment.Dir = o.segmentDir
	}
	if o.localNodeID != "" {
		cfg.Router.LocalNodeID = o.localNodeID
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("dash starting", "version", version, "addr", cfg.Transport.Addr)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	w, err := wal.Open(logger, wal.Config{
		Dir:                 cfg.WAL.Dir,
		SyncEveryRecords:    cfg.WAL.SyncEveryRecords,
		AppendBufferRecords: cfg.WAL.AppendBufferRecords,
		SyncIntervalMS:      cfg.WAL.SyncIntervalMS,
		BackgroundFlushOnly: cfg.WAL.BackgroundFlushOnly,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("wal: %w", err)
	}

	st := store.New(logger)

	snapDir := filepath.Join(filepath.Dir(cfg.WAL.Dir), "snapshot")
	if _, err := snapshot.Recover(logger, snapDir, st, w); err != nil {
		_ = w.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("snapshot recover: %w", err)
	}

	annMgr := ann.NewManager(ann.Config{
		MaxNeighborsBase:      cfg.ANN.MaxNeighborsBase,
		MaxNeighborsUpper:     cfg.ANN.MaxNeighborsUpper,
		SearchExpansionFactor: cfg.ANN.SearchExpansionFactor,
		SearchMinCandidates:   cfg.ANN.SearchExpansionMin,
		SearchMaxCandidates:   cfg.ANN.SearchExpansionMax,
	})
	lexMgr := lexical.NewManager()

	// Re-populate the ANN and lexical indexes from recovered store state:
	// snapshot.Apply restores claim/evidence/edge records but never
	// repopulates either index, since both are pure derived caches.
	for _, c := range st.Dump().Claims {
		if len(c.Embedding) > 0 {
			if err := annMgr.Upsert(c.TenantID, c.ClaimID, c.Embedding); err != nil {
				logger.Warn("dash: ann backfill failed", "claim_id", c.ClaimID, "error", err)
			}
		}
		if err := lexMgr.Upsert(c.TenantID, c.ClaimID, c.CanonicalText); err != nil {
			logger.Warn("dash: lexical backfill failed", "claim_id", c.ClaimID, "error", err)
		}
	}

	boundaryMgr := boundary.NewManager()

	var rtr *router.Router
	if cfg.Router.PlacementFile != "" {
		rtr, err = router.New(logger, router.Config{
			PlacementFile:  cfg.Router.PlacementFile,
			LocalNodeID:    cfg.Router.LocalNodeID,
			ReadPreference: router.ReadPreference(cfg.Router.ReadPreference),
		})
		if err != nil {
			_ = w.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("router: %w", err)
		}
	}

	segWriter := segment.NewWriter(cfg.Segment.Dir, logger)

	pl := planner.New(logger, planner.Config{
		Store:    st,
		ANN:      annMgr,
		Lexical:  lexMgr,
		Boundary: boundaryMgr,
		Router:   rtr,
		Segments: segmentClaimsAdapter{root: cfg.Segment.Dir},
	})

	var mir *mirror.Mirror
	if cfg.MirrorEnabled {
		mir, err = mirror.Open(context.Background(), logger, mirror.Config{
			PostgresURL: cfg.MirrorPostgresURL,
			QdrantAddr:  cfg.MirrorQdrantURL,
			QdrantAPIKey: cfg.MirrorQdrantAPIKey,
		})
		if err != nil {
			_ = w.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("mirror: %w", err)
		}
		if err := mir.ApplySchema(context.Background()); err != nil {
			_ = mir.Close()
			_ = w.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("mirror schema: %w", err)
		}
	}

	authCfg := auth.Config{
		RevokedKeys: make(map[string]bool, len(cfg.Auth.RevokedKeys)),
		JWT: auth.JWTConfig{
			Secrets:       cfg.Auth.JWTSecrets,
			Issuer:        cfg.Auth.JWTIssuer,
			Audience:      cfg.Auth.JWTAudience,
			LeewaySeconds: cfg.Auth.JWTLeewaySecs,
			RequireExp:    cfg.Auth.JWTRequireExp,
		},
	}
	for _, k := range cfg.Auth.RevokedKeys {
		authCfg.RevokedKeys[k] = true
	}
	for _, k := range cfg.Auth.Keys {
		authCfg.ActiveKeys = append(authCfg.ActiveKeys, auth.KeyConfig{ID: k.ID, Secret: k.Secret, Scopes: k.Scopes})
	}
	authenticator := auth.New(authCfg)

	var redisClient *redis.Client
	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		limiter = ratelimit.New(redisClient, logger, false)
	}

	auditLog, err := server.OpenAuditLog(cfg.Audit.LogPath)
	if err != nil {
		if mir != nil {
			_ = mir.Close()
		}
		_ = w.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("audit log: %w", err)
	}

	checkpointTrigger := snapshot.NewTrigger(snapshot.CheckpointConfig{
		MaxWALRecords: uint64(cfg.Checkpoint.MaxWALRecords), //nolint:gosec // validated positive in config.Validate
		MaxWALBytes:   uint64(cfg.Checkpoint.MaxWALBytes),   //nolint:gosec // validated positive in config.Validate
	})

	admission := server.NewAdmission(cfg.Transport.Workers, cfg.Transport.QueueCapacity)

	handlers := server.NewHandlers(server.HandlersDeps{
		Store:               st,
		Planner:             pl,
		ANN:                 annMgr,
		Lexical:             lexMgr,
		Boundary:            boundaryMgr,
		Router:              rtr,
		Mirror:              mir,
		Extractors:          extract.DefaultRegistry(),
		AuthzPolicy:         authz.Policy{AllowedTenants: cfg.Auth.AllowedTenants},
		Audit:               auditLog,
		Admission:           admission,
		WAL:                 w,
		Checkpoint:          checkpointTrigger,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: 4 << 20,
	})

	srv := server.New(server.ServerConfig{
		Addr:          cfg.Transport.Addr,
		Handlers:      handlers,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Admission:     admission,
		Logger:        logger,
	})

	if rtr != nil {
		rtr.Start(context.Background(), time.Duration(cfg.Router.PlacementReloadIntervalMS)*time.Millisecond)
	}

	return &App{
		cfg:           cfg,
		logger:        logger,
		version:       version,
		wal:           w,
		store:         st,
		router:        rtr,
		mirror:        mir,
		redis:         redisClient,
		audit:         auditLog,
		checkpoint:    checkpointTrigger,
		snapDir:       snapDir,
		segWriter:     segWriter,
		segGCMinStale: time.Duration(cfg.Segment.GCMinStaleAgeMS) * time.Millisecond,
		srv:           srv,
		otelShutdown:  otelShutdown,
	}, nil
}

// Run starts the checkpoint loop and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	checkpointCtx, cancel := context.WithCancel(ctx)
	a.checkpointCancel = cancel
	a.checkpointDone = make(chan struct{})
	go a.checkpointLoop(checkpointCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// checkpointLoop periodically checks whether WAL growth has crossed the
// configured threshold and, if so, saves a snapshot and truncates the WAL
// prefix it supersedes. Grounded on internal/wal's own syncLoop shape
// (ticker + context cancellation + done channel).
func (a *App) checkpointLoop(ctx context.Context) {
	defer close(a.checkpointDone)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.checkpoint.ShouldCheckpoint() {
				continue
			}
			if err := a.runCheckpoint(); err != nil {
				a.logger.Warn("dash: checkpoint failed", "error", err)
				continue
			}
			a.checkpoint.Reset()
		}
	}
}

func (a *App) runCheckpoint() error {
	offset := a.wal.NextSeq() - 1
	if err := snapshot.Save(a.snapDir, a.store, offset); err != nil {
		return fmt.Errorf("dash: save snapshot: %w", err)
	}
	if err := a.wal.SaveCheckpoint(offset); err != nil {
		return fmt.Errorf("dash: save wal checkpoint: %w", err)
	}
	a.compactSegments()
	a.logger.Info("dash: checkpoint complete", "wal_offset", offset)
	return nil
}

// compactSegments republishes each tenant's full claim/evidence/edge set as
// a single fresh segment, superseding whatever the tenant's manifest
// previously pointed at, then garbage-collects segment files the manifest
// no longer references once they've aged past the configured stale window.
// A checkpoint-driven full rewrite is simpler than incremental delta
// segments and is cheap here because the in-memory store already holds
// complete tenant state.
func (a *App) compactSegments() {
	dump := a.store.Dump()
	claimsByTenant := make(map[string][]model.Claim)
	evidenceByTenant := make(map[string][]model.Evidence)
	edgesByTenant := make(map[string][]model.ClaimEdge)
	for _, c := range dump.Claims {
		claimsByTenant[c.TenantID] = append(claimsByTenant[c.TenantID], c)
	}
	for _, e := range dump.Evidence {
		evidenceByTenant[e.TenantID] = append(evidenceByTenant[e.TenantID], e)
	}
	for _, e := range dump.Edges {
		edgesByTenant[e.TenantID] = append(edgesByTenant[e.TenantID], e)
	}

	for tenantID, claims := range claimsByTenant {
		segID := fmt.Sprintf("%s-%d", tenantID, time.Now().UnixNano())
		info, err := a.segWriter.WriteSegment(tenantID, segID, claims, evidenceByTenant[tenantID], edgesByTenant[tenantID])
		if err != nil {
			a.logger.Warn("dash: segment write failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if _, err := a.segWriter.Publish(tenantID, []segment.Info{info}); err != nil {
			a.logger.Warn("dash: segment publish failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if _, err := a.segWriter.GC(tenantID, a.segGCMinStale); err != nil {
			a.logger.Warn("dash: segment gc failed", "tenant_id", tenantID, "error", err)
		}
	}
}

// Shutdown drains the HTTP server, stops the checkpoint loop (taking one
// final snapshot so a clean stop never leaves avoidable replay work for the
// next startup), and releases every backing connection.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("dash shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.checkpointCancel != nil {
		a.checkpointCancel()
		<-a.checkpointDone
	}
	if err := a.runCheckpoint(); err != nil {
		a.logger.Warn("dash: final checkpoint failed", "error", err)
	}
	a.checkpoint.Reset()

	if a.router != nil {
		a.router.Stop()
	}
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.wal.Close(); err != nil {
		a.logger.Error("wal close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("dash stopped")
	return nil
}

// segmentClaimsAdapter satisfies internal/planner's SegmentClaims interface
// by reading a tenant's published segment manifest on demand.
type segmentClaimsAdapter struct {
	root string
}

func (s segmentClaimsAdapter) ClaimIDs(tenantID string) (map[string]bool, bool) {
	m, err := segment.Load(s.root, tenantID)
	if err != nil || m == nil {
		return nil, false
	}
	ids, err := segment.ClaimIDSet(s.root, m)
	if err != nil {
		return nil, false
	}
	return ids, true
}
