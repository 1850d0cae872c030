package lexical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertAndSearch(t *testing.T) {
	m := NewManager()
	defer m.Close()

	require.NoError(t, m.Upsert("t1", "claim-1", "the quarterly revenue grew sharply"))
	require.NoError(t, m.Upsert("t1", "claim-2", "unrelated text about weather patterns"))

	results, err := m.Search(context.Background(), "t1", "quarterly revenue", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "claim-1", results[0].ClaimID)
}

func TestSearchColdTenantReturnsNil(t *testing.T) {
	m := NewManager()
	defer m.Close()

	results, err := m.Search(context.Background(), "unknown-tenant", "anything", 10)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestRemoveDeindexesClaim(t *testing.T) {
	m := NewManager()
	defer m.Close()

	require.NoError(t, m.Upsert("t1", "claim-1", "quarterly revenue"))
	require.NoError(t, m.Remove("t1", "claim-1"))

	results, err := m.Search(context.Background(), "t1", "quarterly revenue", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
