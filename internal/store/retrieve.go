package store

import (
	"context"
	"fmt"

	"omnicortex/internal/embedding"
	"omnicortex/internal/types"
)

// ScoredID pairs a memory id with a retrieval score. Higher is better in
// both keyword and semantic modes.
type ScoredID struct {
	ID    string
	Score float64
}

// KeywordMatches runs the FTS query and returns filtered ids scored by BM25
// (negated, so higher is better), ordered score descending with
// last_accessed then id descending tie-breaks.
func (s *Store) KeywordMatches(ctx context.Context, match string, f Filter, limit int) ([]ScoredID, error) {
	where, args := f.whereClause(s.now())
	query := fmt.Sprintf(`
		SELECT m.id, -bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.id
		WHERE memories_fts MATCH ? AND %s
		ORDER BY score DESC, m.last_accessed DESC, m.id DESC
		LIMIT ?`, where)

	full := make([]interface{}, 0, len(args)+2)
	full = append(full, match)
	full = append(full, args...)
	full = append(full, limit)

	rows, err := s.cat.DB().QueryContext(ctx, query, full...)
	if err != nil {
		return nil, wrapRead(ctx, err, "keyword search failed")
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var sc ScoredID
		if err := rows.Scan(&sc.ID, &sc.Score); err != nil {
			return nil, wrapRead(ctx, err, "failed to scan keyword match")
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read keyword matches")
	}
	return out, nil
}

// VectorRow is one embedding candidate for semantic scoring.
type VectorRow struct {
	ID        string
	Embedding []byte
}

// VectorCandidates returns the stored vectors of every memory passing the
// filter. Rows without a vector are absent: the no-vector sentinel.
func (s *Store) VectorCandidates(ctx context.Context, f Filter) ([]VectorRow, error) {
	where, args := f.whereClause(s.now())
	query := fmt.Sprintf(`
		SELECT m.id, v.embedding
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE %s
		ORDER BY m.last_accessed DESC, m.id DESC`, where)

	rows, err := s.cat.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapRead(ctx, err, "vector scan failed")
	}
	defer rows.Close()

	var out []VectorRow
	for rows.Next() {
		var vr VectorRow
		if err := rows.Scan(&vr.ID, &vr.Embedding); err != nil {
			return nil, wrapRead(ctx, err, "failed to scan vector")
		}
		out = append(out, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read vectors")
	}
	return out, nil
}

// VectorSimilar scores filtered candidates against the query vector inside
// SQLite using the sqlite-vec distance function. ok=false means this build
// lacks the extension and the caller ranks in process instead.
func (s *Store) VectorSimilar(ctx context.Context, queryVec []float32, f Filter) ([]ScoredID, bool, error) {
	if !s.cat.VecEnabled() {
		return nil, false, nil
	}
	where, args := f.whereClause(s.now())
	query := fmt.Sprintf(`
		SELECT m.id, 1.0 - vec_distance_cosine(v.embedding, ?) AS score
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE %s
		ORDER BY score DESC, m.last_accessed DESC, m.id DESC`, where)

	full := make([]interface{}, 0, len(args)+1)
	full = append(full, embedding.EncodeVector(queryVec))
	full = append(full, args...)

	rows, err := s.cat.DB().QueryContext(ctx, query, full...)
	if err != nil {
		return nil, false, wrapRead(ctx, err, "vector search failed")
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var sc ScoredID
		if err := rows.Scan(&sc.ID, &sc.Score); err != nil {
			return nil, false, wrapRead(ctx, err, "failed to scan vector match")
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, false, wrapRead(ctx, err, "failed to read vector matches")
	}
	return out, true, nil
}

// FilteredMemories returns every memory passing the filter in the stable
// retrieval order. Used by the review sweep.
func (s *Store) FilteredMemories(ctx context.Context, f Filter) ([]*types.Memory, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	where, args := f.whereClause(s.now())
	query := fmt.Sprintf(`SELECT %s FROM memories m WHERE %s
		ORDER BY m.last_accessed DESC, m.id DESC`, memoryColumns, where)
	return s.queryMemories(ctx, query, args...)
}
