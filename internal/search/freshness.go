package search

import (
	"context"
	"time"

	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// Classification is the derived freshness of a memory: how long since it was
// last useful, folded together with its explicit status.
type Classification string

const (
	ClassFresh       Classification = "fresh"
	ClassNeedsReview Classification = "needs_review"
	ClassOutdated    Classification = "outdated"
	ClassArchived    Classification = "archived"
)

const (
	// reviewAfter is how long a memory can go untouched before it wants a
	// second look.
	reviewAfter = 30 * 24 * time.Hour
	// outdatedAfter is how long before an untouched memory is presumed wrong.
	outdatedAfter = 90 * 24 * time.Hour
)

// Classify derives the freshness of a memory at the given instant. The age
// anchor is last_accessed, falling back to created_at for never-read rows.
// An explicit non-fresh status always wins over a younger age.
func Classify(m *types.Memory, now time.Time) Classification {
	if m.Status == types.StatusArchived {
		return ClassArchived
	}

	anchor := m.CreatedAt
	if m.LastAccessed != nil {
		anchor = *m.LastAccessed
	}
	age := now.Sub(anchor)

	switch {
	case m.Status == types.StatusOutdated || age > outdatedAfter:
		return ClassOutdated
	case m.Status == types.StatusNeedsReview || age >= reviewAfter:
		return ClassNeedsReview
	default:
		return ClassFresh
	}
}

// ReviewItem pairs a memory with its non-fresh classification.
type ReviewItem struct {
	Memory         *types.Memory  `json:"memory"`
	Classification Classification `json:"classification"`
}

// Review sweeps the catalog and returns every memory whose classification is
// needs_review or outdated. Archived rows never appear.
func (e *Engine) Review(ctx context.Context) ([]ReviewItem, error) {
	mems, err := e.store.FilteredMemories(ctx, store.Filter{Statuses: []types.MemoryStatus{
		types.StatusFresh, types.StatusNeedsReview, types.StatusOutdated,
	}})
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	var items []ReviewItem
	for _, m := range mems {
		switch c := Classify(m, now); c {
		case ClassNeedsReview, ClassOutdated:
			items = append(items, ReviewItem{Memory: m, Classification: c})
		}
	}
	return items, nil
}
