package store

import (
	"context"
	"fmt"
)

// Stats reports per-table row counts, feeding the stats_updated broadcast
// and the CLI stats command.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"memories", "memory_tags", "memory_links", "memory_vectors", "activities", "sessions", "user_messages"} {
		var count int64
		err := s.cat.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			return nil, wrapRead(ctx, err, fmt.Sprintf("failed to count %s", table))
		}
		stats[table] = count
	}
	return stats, nil
}
