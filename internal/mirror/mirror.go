// Package mirror backs the optional durable replication surfaces
// (/internal/replication/wal and /internal/replication/export): a
// best-effort, non-authoritative copy of committed claims in Postgres
// (via pgx + pgvector) and/or Qdrant, for analytics and export consumers.
// Neither backend is ever read from the retrieval hot path — C7 reads
// exclusively from internal/store and internal/segment.
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/qdrant/go-client/qdrant"

	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/migrations"
)

// Config configures whichever backends are enabled. Either or both of
// PostgresURL/QdrantAddr may be empty to disable that backend.
type Config struct {
	PostgresURL      string
	QdrantAddr       string // host:port, gRPC
	QdrantAPIKey     string
	QdrantCollection string
}

// Mirror fans a claim write out to whichever backing stores are enabled.
// A failure to mirror never fails the originating ingest call; callers log
// and continue, matching the "best-effort, non-authoritative" contract.
type Mirror struct {
	logger     *slog.Logger
	pg         *pgxpool.Pool
	qdrant     *qdrant.Client
	collection string
}

// Open connects to whichever backends are configured. A Config with both
// URLs empty returns a Mirror that no-ops on every call.
func Open(ctx context.Context, logger *slog.Logger, cfg Config) (*Mirror, error) {
	m := &Mirror{logger: logger, collection: cfg.QdrantCollection}

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("mirror: connect postgres: %w", err)
		}
		m.pg = pool
	}

	if cfg.QdrantAddr != "" {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   cfg.QdrantAddr,
			APIKey: cfg.QdrantAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("mirror: connect qdrant: %w", err)
		}
		m.qdrant = client
		if m.collection == "" {
			m.collection = "dash_claims"
		}
	}

	return m, nil
}

// ApplySchema runs the embedded Postgres mirror schema. No-op if the
// Postgres backend is disabled. Statements are idempotent (CREATE TABLE/
// INDEX IF NOT EXISTS), so calling this on every startup is safe.
func (m *Mirror) ApplySchema(ctx context.Context) error {
	if m.pg == nil {
		return nil
	}
	for _, stmt := range migrations.MirrorSchemaStatements() {
		if _, err := m.pg.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("mirror: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases backend connections.
func (m *Mirror) Close() error {
	if m.pg != nil {
		m.pg.Close()
	}
	if m.qdrant != nil {
		m.qdrant.Close()
	}
	return nil
}

// ExportClaim upserts one claim into every enabled backend. Errors are
// returned (not swallowed) so callers can decide whether to log-and-drop
// or retry; the wiring is "best-effort" at the config level (either
// backend can be disabled), not by silently eating errors here.
func (m *Mirror) ExportClaim(ctx context.Context, c model.Claim) error {
	if m.pg != nil {
		if err := m.exportToPostgres(ctx, c); err != nil {
			return fmt.Errorf("mirror: postgres export: %w", err)
		}
	}
	if m.qdrant != nil && len(c.Embedding) > 0 {
		if err := m.exportToQdrant(ctx, c); err != nil {
			return fmt.Errorf("mirror: qdrant export: %w", err)
		}
	}
	return nil
}

func (m *Mirror) exportToPostgres(ctx context.Context, c model.Claim) error {
	var vec any
	if len(c.Embedding) > 0 {
		vec = pgvector.NewVector(c.Embedding)
	}
	_, err := m.pg.Exec(ctx, `
		INSERT INTO dash_claims (claim_id, tenant_id, canonical_text, confidence, event_time_unix, created_at_unix, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (claim_id) DO UPDATE SET
			canonical_text = EXCLUDED.canonical_text,
			confidence = EXCLUDED.confidence,
			event_time_unix = EXCLUDED.event_time_unix,
			embedding = EXCLUDED.embedding
		WHERE EXCLUDED.created_at_unix >= dash_claims.created_at_unix
	`, c.ClaimID, c.TenantID, c.CanonicalText, c.Confidence, c.EventTimeUnix, c.CreatedAtUnix, vec)
	return err
}

func (m *Mirror) exportToQdrant(ctx context.Context, c model.Claim) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(c.ClaimID),
		Vectors: qdrant.NewVectors(c.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			"tenant_id":      c.TenantID,
			"canonical_text": c.CanonicalText,
			"confidence":     c.Confidence,
		}),
	}
	_, err := m.qdrant.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	return err
}

// EnsureCollection creates the Qdrant collection if it does not already
// exist, sized to dim. No-op if the Qdrant backend is disabled.
func (m *Mirror) EnsureCollection(ctx context.Context, dim uint64) error {
	if m.qdrant == nil {
		return nil
	}
	exists, err := m.qdrant.CollectionExists(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("mirror: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	return m.qdrant.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}
