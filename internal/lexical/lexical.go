// Package lexical provides BM25-scored lexical candidate generation for
// retrieval planner Stage 4 (spec §4.6), backed by an in-memory bluge
// index per tenant. The per-tenant lazy-index shape mirrors
// internal/ann.Manager.
package lexical

import (
	"context"
	"fmt"
	"sync"

	"github.com/blugelabs/bluge"
)

const fieldClaimID = "_claim_id"
const fieldText = "text"

// Manager holds one in-memory bluge index per tenant.
type Manager struct {
	mu      sync.Mutex
	writers map[string]*bluge.Writer
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{writers: make(map[string]*bluge.Writer)}
}

func (m *Manager) writerFor(tenantID string) (*bluge.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.writers[tenantID]
	if ok {
		return w, nil
	}
	cfg := bluge.InMemoryOnlyConfig()
	w, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("lexical: open index for tenant %s: %w", tenantID, err)
	}
	m.writers[tenantID] = w
	return w, nil
}

// Upsert indexes claimID's canonical text under tenantID, replacing any
// prior document for the same claim id.
func (m *Manager) Upsert(tenantID, claimID, text string) error {
	w, err := m.writerFor(tenantID)
	if err != nil {
		return err
	}
	doc := bluge.NewDocument(claimID).
		AddField(bluge.NewKeywordField(fieldClaimID, claimID).StoreValue()).
		AddField(bluge.NewTextField(fieldText, text).SearchTermPositions())
	if err := w.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("lexical: upsert claim %s: %w", claimID, err)
	}
	return nil
}

// Remove deletes claimID's document for tenantID, if present.
func (m *Manager) Remove(tenantID, claimID string) error {
	w, err := m.writerFor(tenantID)
	if err != nil {
		return err
	}
	if err := w.Delete(bluge.NewDocument(claimID).ID()); err != nil {
		return fmt.Errorf("lexical: remove claim %s: %w", claimID, err)
	}
	return nil
}

// Result is one BM25-scored lexical candidate.
type Result struct {
	ClaimID string
	Score   float64
}

// Search returns the topK BM25-scored matches for queryText within
// tenantID. Returns nil, nil if the tenant has no indexed documents yet.
func (m *Manager) Search(ctx context.Context, tenantID, queryText string, topK int) ([]Result, error) {
	m.mu.Lock()
	w, ok := m.writers[tenantID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	reader, err := w.Reader()
	if err != nil {
		return nil, fmt.Errorf("lexical: open reader for tenant %s: %w", tenantID, err)
	}
	defer reader.Close()

	query := bluge.NewMatchQuery(queryText).SetField(fieldText)
	req := bluge.NewTopNSearch(topK, query).WithStandardAggregations()

	matches, err := reader.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical: search tenant %s: %w", tenantID, err)
	}

	var out []Result
	next, err := matches.Next()
	for err == nil && next != nil {
		var claimID string
		visitErr := next.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldClaimID {
				claimID = string(value)
			}
			return true
		})
		if visitErr == nil && claimID != "" {
			out = append(out, Result{ClaimID: claimID, Score: next.Score})
		}
		next, err = matches.Next()
	}
	return out, nil
}

// Close releases all per-tenant index resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for tenantID, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lexical: close index for tenant %s: %w", tenantID, err)
		}
	}
	return firstErr
}
