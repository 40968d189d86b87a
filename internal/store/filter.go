package store

import (
	"strings"
	"time"

	"omnicortex/internal/types"
)

// Filter narrows memory reads before any ranking happens. The zero value is
// the default filter: archived memories are excluded, everything else passes.
type Filter struct {
	Types    []types.MemoryType
	Statuses []types.MemoryStatus
	// Tags requires at least one of the listed tags.
	Tags          []string
	MinImportance *int
	MaxImportance *int
	// Bounds on last_accessed.
	AccessedAfter  *time.Time
	AccessedBefore *time.Time

	// ExcludeStale additionally drops rows whose freshness classification
	// would be outdated (last touch beyond the review horizon). Set by the
	// default list view; explicit status filters leave it off so stale rows
	// can still be surfaced on request.
	ExcludeStale bool
}

// staleHorizon is how long a memory can go untouched before the default
// list view stops showing it.
const staleHorizon = 90 * 24 * time.Hour

// Validate rejects unknown enum values before any SQL is built.
func (f Filter) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return types.Invalidf("filters.memory_type", "unknown memory type %q", t)
		}
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return types.Invalidf("filters.status", "unknown status %q", st)
		}
	}
	if f.MinImportance != nil && (*f.MinImportance < 0 || *f.MinImportance > 100) {
		return types.Invalidf("filters.min_importance", "must be in [0,100]")
	}
	if f.MaxImportance != nil && (*f.MaxImportance < 0 || *f.MaxImportance > 100) {
		return types.Invalidf("filters.max_importance", "must be in [0,100]")
	}
	return nil
}

// whereClause renders the filter as SQL conditions over alias m. now anchors
// the staleness cutoff.
func (f Filter) whereClause(now time.Time) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if len(f.Types) > 0 {
		conds = append(conds, "m.memory_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}

	if len(f.Statuses) > 0 {
		conds = append(conds, "m.status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	} else {
		conds = append(conds, "m.status != ?")
		args = append(args, string(types.StatusArchived))
	}

	if f.ExcludeStale && len(f.Statuses) == 0 {
		cutoff := types.FormatTime(now.Add(-staleHorizon))
		conds = append(conds, "(COALESCE(m.last_accessed, m.created_at) >= ?)")
		args = append(args, cutoff)
	}

	if len(f.Tags) > 0 {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM memory_tags mt WHERE mt.memory_id = m.id AND mt.tag IN ("+placeholders(len(f.Tags))+"))")
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}

	if f.MinImportance != nil {
		conds = append(conds, "m.importance_score >= ?")
		args = append(args, *f.MinImportance)
	}
	if f.MaxImportance != nil {
		conds = append(conds, "m.importance_score <= ?")
		args = append(args, *f.MaxImportance)
	}

	if f.AccessedAfter != nil {
		conds = append(conds, "m.last_accessed >= ?")
		args = append(args, types.FormatTime(*f.AccessedAfter))
	}
	if f.AccessedBefore != nil {
		conds = append(conds, "m.last_accessed <= ?")
		args = append(args, types.FormatTime(*f.AccessedBefore))
	}

	return strings.Join(conds, " AND "), args
}
