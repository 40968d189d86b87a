package store

import (
	"context"
	"database/sql"
	"fmt"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/types"
)

// LinkMemories inserts a directed, typed edge between two memories. A
// duplicate (from, to, kind) is a no-op reported as linked=false. Cycles are
// legitimate and never checked for.
func (s *Store) LinkMemories(ctx context.Context, from, to string, kind types.LinkKind) (bool, error) {
	if kind == "" {
		kind = types.LinkRelatesTo
	}
	if !kind.Valid() {
		return false, types.Invalidf("kind", "unknown link kind %q", kind)
	}
	if from == to {
		return false, types.Invalidf("to", "cannot link a memory to itself")
	}

	linked := false
	err := s.write(ctx, func(tx *sql.Tx) error {
		if err := memoryExists(tx, from); err != nil {
			return err
		}
		if err := memoryExists(tx, to); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO memory_links (from_id, to_id, kind) VALUES (?, ?, ?)`,
			from, to, string(kind))
		if err != nil {
			return fmt.Errorf("%w: failed to insert link: %v", types.ErrIO, err)
		}
		n, _ := res.RowsAffected()
		linked = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if linked {
		s.notify(broadcast.KindMemoryUpdated, from)
	}
	return linked, nil
}

// Links returns every edge touching the memory, both directions.
func (s *Store) Links(ctx context.Context, id string) ([]types.Link, error) {
	rows, err := s.cat.DB().QueryContext(ctx,
		`SELECT from_id, to_id, kind FROM memory_links WHERE from_id = ? OR to_id = ? ORDER BY from_id, to_id, kind`,
		id, id)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query links")
	}
	defer rows.Close()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		var kind string
		if err := rows.Scan(&l.FromID, &l.ToID, &kind); err != nil {
			return nil, wrapRead(ctx, err, "failed to scan link")
		}
		l.Kind = types.LinkKind(kind)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read links")
	}
	return links, nil
}

// AllLinks returns the full link set, used by export.
func (s *Store) AllLinks(ctx context.Context) ([]types.Link, error) {
	rows, err := s.cat.DB().QueryContext(ctx,
		`SELECT from_id, to_id, kind FROM memory_links ORDER BY from_id, to_id, kind`)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query links")
	}
	defer rows.Close()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		var kind string
		if err := rows.Scan(&l.FromID, &l.ToID, &kind); err != nil {
			return nil, wrapRead(ctx, err, "failed to scan link")
		}
		l.Kind = types.LinkKind(kind)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read links")
	}
	return links, nil
}
