package store

import (
	"context"

	"omnicortex/internal/types"
)

// ListTags aggregates tags across non-archived memories: count descending,
// lexicographic tie-break.
func (s *Store) ListTags(ctx context.Context) ([]types.TagCount, error) {
	rows, err := s.cat.DB().QueryContext(ctx, `
		SELECT mt.tag, COUNT(*) AS n
		FROM memory_tags mt
		JOIN memories m ON m.id = mt.memory_id
		WHERE m.status != ?
		GROUP BY mt.tag
		ORDER BY n DESC, mt.tag ASC`,
		string(types.StatusArchived))
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to aggregate tags")
	}
	defer rows.Close()

	var out []types.TagCount
	for rows.Next() {
		var tc types.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, wrapRead(ctx, err, "failed to scan tag count")
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read tag counts")
	}
	return out, nil
}
