// Package analyzer scores collected listings for relevance. From the
// scheduler's point of view it is a pass-through collaborator: items in,
// items plus a numeric score and recommendation text out.
package analyzer

import (
	"context"

	"github.com/jobpulse/scraper-agent/internal/collector"
)

// Analysis is the enrichment attached to one collected item
type Analysis struct {
	Score          float64 `json:"score"`          // relevance (0-100)
	Recommendation string  `json:"recommendation"` // one-line verdict
}

// Analyzer annotates raw items with relevance analysis. The returned slice is
// index-aligned with the input; a nil entry means the item could not be
// scored.
type Analyzer interface {
	AnalyzeItems(ctx context.Context, searchTerm string, items []*collector.RawItem) ([]*Analysis, error)
}

// Nop is the analyzer used when no API key is configured; items pass through
// unscored.
type Nop struct{}

// AnalyzeItems returns nil analyses for every item
func (Nop) AnalyzeItems(_ context.Context, _ string, items []*collector.RawItem) ([]*Analysis, error) {
	return make([]*Analysis, len(items)), nil
}
