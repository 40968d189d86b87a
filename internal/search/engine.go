// Package search is the retrieval engine: keyword ranking over the FTS5
// index, semantic ranking over stored vectors, and their hybrid blend. The
// engine only reads; access bookkeeping stays with the caller.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"omnicortex/internal/clock"
	"omnicortex/internal/embedding"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// SimilarityThreshold is the minimum cosine similarity a semantic candidate
// must reach to appear in results.
const SimilarityThreshold = 0.2

// hybridFanout scales the requested limit into the per-list candidate depth
// for hybrid blending.
const hybridFanout = 3

// Result is one ranked hit.
type Result struct {
	Memory *types.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// Results is a ranked page. Degraded marks a semantic or hybrid request that
// fell back to keyword ranking because no embedder was available.
type Results struct {
	Items    []Result `json:"items"`
	Degraded bool     `json:"degraded,omitempty"`
}

// Options narrows and pages a search.
type Options struct {
	Mode   Mode
	Filter store.Filter
	Limit  int
	Offset int
}

// Engine ranks memories from one catalog.
type Engine struct {
	store    *store.Store
	embedder embedding.Embedder
	clock    clock.Clock
	logger   *zap.Logger
}

// New builds a retrieval engine over a storage engine.
func New(st *store.Store, emb embedding.Embedder, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, embedder: emb, clock: clk, logger: logger}
}

// Search ranks memories against the query. The default mode is hybrid. Two
// calls with the same query, filter, and no intervening writes page through
// one stable ordering.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Results, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.Invalidf("query", "must not be empty")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if mode != ModeKeyword && mode != ModeSemantic && mode != ModeHybrid {
		return nil, types.Invalidf("mode", "must be keyword, semantic, or hybrid")
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if opts.Offset < 0 {
		return nil, types.Invalidf("offset", "must be non-negative")
	}
	limit := store.ClampLimit(opts.Limit)

	res := &Results{}

	// Embed the query up front; any failure degrades to keyword ranking
	// rather than erroring the read.
	var queryVec []float32
	if mode != ModeKeyword {
		queryVec = e.embedQuery(ctx, query)
		if queryVec == nil {
			e.logger.Debug("embedder unavailable, degrading to keyword search")
			mode = ModeKeyword
			res.Degraded = true
		}
	}

	var scored []store.ScoredID
	var err error
	switch mode {
	case ModeKeyword:
		scored, err = e.keyword(ctx, query, opts.Filter, limit+opts.Offset)
	case ModeSemantic:
		scored, err = e.semantic(ctx, queryVec, opts.Filter)
	case ModeHybrid:
		scored, err = e.hybrid(ctx, query, queryVec, opts.Filter, limit)
	}
	if err != nil {
		return nil, err
	}

	res.Items, err = e.rank(ctx, scored, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) []float32 {
	if e.embedder == nil || !e.embedder.IsAvailable() {
		return nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		e.logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}
	return vecs[0]
}

func (e *Engine) keyword(ctx context.Context, query string, f store.Filter, limit int) ([]store.ScoredID, error) {
	match := BuildMatch(query)
	if match == "" {
		return nil, nil
	}
	return e.store.KeywordMatches(ctx, match, f, limit)
}

// semantic scores every filtered candidate against the query vector, in
// SQLite when the vec extension is compiled in and in process otherwise, and
// keeps candidates above the similarity threshold.
func (e *Engine) semantic(ctx context.Context, queryVec []float32, f store.Filter) ([]store.ScoredID, error) {
	scored, ok, err := e.store.VectorSimilar(ctx, queryVec, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		rows, err := e.store.VectorCandidates(ctx, f)
		if err != nil {
			return nil, err
		}
		scored = make([]store.ScoredID, 0, len(rows))
		for _, row := range rows {
			vec, err := embedding.DecodeVector(row.Embedding)
			if err != nil {
				e.logger.Warn("skipping undecodable vector", zap.String("memory_id", row.ID), zap.Error(err))
				continue
			}
			sim, err := embedding.CosineSimilarity(queryVec, vec)
			if err != nil {
				continue
			}
			scored = append(scored, store.ScoredID{ID: row.ID, Score: sim})
		}
	}

	kept := scored[:0]
	for _, sc := range scored {
		if sc.Score >= SimilarityThreshold {
			kept = append(kept, sc)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

// hybrid blends the keyword and semantic top-K: each list's scores are
// normalized by the list maximum, then combined half and half. A memory
// absent from one list contributes zero for that half. The candidate depth
// depends on the page size only, never the offset, so every page of one
// query is a slice of the same blended ranking.
func (e *Engine) hybrid(ctx context.Context, query string, queryVec []float32, f store.Filter, limit int) ([]store.ScoredID, error) {
	k := hybridFanout * limit

	kw, err := e.keyword(ctx, query, f, k)
	if err != nil {
		return nil, err
	}
	sem, err := e.semantic(ctx, queryVec, f)
	if err != nil {
		return nil, err
	}
	if len(sem) > k {
		sem = sem[:k]
	}

	combined := make(map[string]float64, len(kw)+len(sem))
	order := make([]string, 0, len(kw)+len(sem))
	merge := func(list []store.ScoredID) {
		max := 0.0
		for _, sc := range list {
			if sc.Score > max {
				max = sc.Score
			}
		}
		for _, sc := range list {
			norm := 0.0
			if max > 0 {
				norm = sc.Score / max
			}
			if _, seen := combined[sc.ID]; !seen {
				order = append(order, sc.ID)
			}
			combined[sc.ID] += 0.5 * norm
		}
	}
	merge(kw)
	merge(sem)

	out := make([]store.ScoredID, 0, len(order))
	for _, id := range order {
		out = append(out, store.ScoredID{ID: id, Score: combined[id]})
	}
	return out, nil
}

// rank loads the scored rows, orders by score with last_accessed then id
// descending tie-breaks, and slices out the requested page.
func (e *Engine) rank(ctx context.Context, scored []store.ScoredID, limit, offset int) ([]Result, error) {
	if len(scored) == 0 {
		return nil, nil
	}
	ids := make([]string, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ID
	}
	mems, err := e.store.MemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}

	out := make([]Result, 0, len(scored))
	for _, sc := range scored {
		if m, ok := byID[sc.ID]; ok {
			out = append(out, Result{Memory: m, Score: sc.Score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ai, aj := accessAnchor(out[i].Memory), accessAnchor(out[j].Memory)
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].Memory.ID > out[j].Memory.ID
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func accessAnchor(m *types.Memory) time.Time {
	if m.LastAccessed != nil {
		return *m.LastAccessed
	}
	return time.Time{}
}
