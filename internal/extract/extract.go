// Package extract defines the pluggable raw-text bootstrap contract used by
// POST /v1/ingest/raw: text in, claim drafts and evidence spans out. The
// core depends only on this contract (spec.md §9 "dynamic dispatch /
// extraction adapters"); concrete providers are named and selected by
// configuration, never wired by concrete type.
package extract

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dashdb/dash/internal/model"
)

// ClaimDraft is one claim an extractor proposes from raw text. IDs are
// assigned by the extractor so repeated extraction of identical text is
// stable (content-addressed), not random per call.
type ClaimDraft struct {
	ClaimID       string
	CanonicalText string
	Confidence    float64
}

// EvidenceSpan ties a claim draft (by index into the returned ClaimDraft
// slice) back to the byte span of source text that supports it.
type EvidenceSpan struct {
	ClaimIndex    int
	SpanStart     int
	SpanEnd       int
	Stance        model.Stance
	SourceQuality float64
}

// Extractor turns raw text into claim drafts and their supporting spans.
type Extractor interface {
	Name() string
	Extract(text string) ([]ClaimDraft, []EvidenceSpan, error)
}

// Registry resolves a named extractor, mirroring the teacher's named-route
// dispatch (no reflection, no interface{} adapter chains).
type Registry map[string]Extractor

// Get resolves name, falling back to "rule_sentence" when name is empty.
func (r Registry) Get(name string) (Extractor, bool) {
	if name == "" {
		name = "rule_sentence"
	}
	e, ok := r[name]
	return e, ok
}

// DefaultRegistry returns the built-in providers. Out-of-process adapters
// (e.g. "adapter_command") register themselves into a Registry the same
// way; the core never imports them.
func DefaultRegistry() Registry {
	rs := NewRuleSentenceExtractor()
	return Registry{rs.Name(): rs}
}

// ruleSentenceExtractor splits raw text into sentences on terminal
// punctuation and proposes one claim per sentence, each with a single
// supporting evidence span covering its own source text. Confidence is
// fixed at 0.5 (no calibration signal available from bare text).
type ruleSentenceExtractor struct{}

// NewRuleSentenceExtractor returns the default extractor named
// "rule_sentence" in §9.
func NewRuleSentenceExtractor() Extractor {
	return ruleSentenceExtractor{}
}

func (ruleSentenceExtractor) Name() string { return "rule_sentence" }

func (ruleSentenceExtractor) Extract(text string) ([]ClaimDraft, []EvidenceSpan, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: empty text", model.ErrInvalidRequest)
	}

	var claims []ClaimDraft
	var spans []EvidenceSpan

	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		end := i + 1
		sentence := strings.TrimSpace(text[start:end])
		if sentence != "" {
			idx := len(claims)
			claims = append(claims, ClaimDraft{
				ClaimID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(sentence)).String(),
				CanonicalText: sentence,
				Confidence:    0.5,
			})
			spans = append(spans, EvidenceSpan{
				ClaimIndex:    idx,
				SpanStart:     start,
				SpanEnd:       end,
				Stance:        model.StanceSupports,
				SourceQuality: 0.5,
			})
		}
		start = end
	}

	if tail := strings.TrimSpace(text[start:]); tail != "" {
		idx := len(claims)
		claims = append(claims, ClaimDraft{
			ClaimID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(tail)).String(),
			CanonicalText: tail,
			Confidence:    0.5,
		})
		spans = append(spans, EvidenceSpan{
			ClaimIndex:    idx,
			SpanStart:     start,
			SpanEnd:       len(text),
			Stance:        model.StanceSupports,
			SourceQuality: 0.5,
		})
	}

	if len(claims) == 0 {
		return nil, nil, fmt.Errorf("%w: no sentences extracted", model.ErrInvalidRequest)
	}
	return claims, spans, nil
}
