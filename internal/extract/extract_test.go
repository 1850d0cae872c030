package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuleSentenceExtractorSplitsSentences(t *testing.T) {
	e := NewRuleSentenceExtractor()
	claims, spans, err := e.Extract("Company X acquired Company Y. Revenue grew sharply!")
	require.NoError(t, err)
	require.Len(t, claims, 2)
	require.Len(t, spans, 2)
	require.Equal(t, "Company X acquired Company Y.", claims[0].CanonicalText)
	require.Equal(t, "Revenue grew sharply!", claims[1].CanonicalText)
	require.Equal(t, 0, spans[0].ClaimIndex)
	require.Equal(t, 1, spans[1].ClaimIndex)
}

func TestRuleSentenceExtractorRejectsEmpty(t *testing.T) {
	e := NewRuleSentenceExtractor()
	_, _, err := e.Extract("   ")
	require.Error(t, err)
}

func TestDefaultRegistryResolvesFallback(t *testing.T) {
	reg := DefaultRegistry()
	e, ok := reg.Get("")
	require.True(t, ok)
	require.Equal(t, "rule_sentence", e.Name())
}
