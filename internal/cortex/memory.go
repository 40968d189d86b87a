package cortex

import (
	"context"
	"io"

	"go.uber.org/zap"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/search"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// Remember stores a new memory.
func (p *Project) Remember(ctx context.Context, params store.CreateMemoryParams) (*types.Memory, error) {
	return p.store.CreateMemory(ctx, params)
}

// Recall ranks memories against the query and records the access on every
// returned row.
func (p *Project) Recall(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	res, err := p.engine.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	p.touch(ctx, memoryIDs(res.Items))
	return res, nil
}

// ListMemories lists memories and records the access on every returned row.
func (p *Project) ListMemories(ctx context.Context, opts store.ListOptions) ([]*types.Memory, error) {
	mems, err := p.store.ListMemories(ctx, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	p.touch(ctx, ids)
	return mems, nil
}

// GetMemory loads one memory and records the access.
func (p *Project) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	mem, err := p.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	p.touch(ctx, []string{id})
	return mem, nil
}

// UpdateMemory applies a partial update.
func (p *Project) UpdateMemory(ctx context.Context, id string, patch store.MemoryPatch) (*types.Memory, error) {
	return p.store.UpdateMemory(ctx, id, patch)
}

// Forget hard-deletes a memory. Returns 0 for an unknown id.
func (p *Project) Forget(ctx context.Context, id string) (int, error) {
	return p.store.ForgetMemory(ctx, id)
}

// LinkMemories adds a typed edge; a duplicate reports linked=false.
func (p *Project) LinkMemories(ctx context.Context, from, to string, kind types.LinkKind) (bool, error) {
	return p.store.LinkMemories(ctx, from, to, kind)
}

// ListTags aggregates tags over non-archived memories.
func (p *Project) ListTags(ctx context.Context) ([]types.TagCount, error) {
	return p.store.ListTags(ctx)
}

// ReviewMemories returns memories whose freshness is not fresh.
func (p *Project) ReviewMemories(ctx context.Context) ([]search.ReviewItem, error) {
	return p.engine.Review(ctx)
}

// Export serializes the whole catalog in the requested format.
func (p *Project) Export(ctx context.Context, format string, w io.Writer) error {
	switch format {
	case "json", "":
		return p.store.ExportJSON(ctx, w)
	case "jsonl":
		return p.store.ExportJSONL(ctx, w)
	default:
		return types.Invalidf("format", "must be json or jsonl")
	}
}

// Import loads an export into this catalog. restore preserves access
// bookkeeping.
func (p *Project) Import(ctx context.Context, snap *store.Snapshot, restore bool) error {
	return p.store.Import(ctx, snap, restore)
}

// Stats reports per-table counts and publishes a stats_updated event for
// dashboard subscribers.
func (p *Project) Stats(ctx context.Context) (map[string]int64, error) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if p.bus != nil {
		p.bus.Publish(broadcast.Event{
			Kind:        broadcast.KindStatsUpdated,
			ProjectPath: p.path,
			Timestamp:   p.clock.Now().UTC(),
		})
	}
	return stats, nil
}

// touch coalesces access bookkeeping for one read. A bookkeeping failure is
// logged, never surfaced: the read already succeeded.
func (p *Project) touch(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.store.TouchMemories(ctx, ids); err != nil {
		p.logger.Warn("access bookkeeping failed", zap.Int("memories", len(ids)), zap.Error(err))
	}
}

func memoryIDs(items []search.Result) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Memory.ID
	}
	return ids
}
