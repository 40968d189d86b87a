package store

import (
	"context"
	"database/sql"
	"fmt"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/types"
)

// CreateSession opens a new session. The partial unique index enforces at
// most one open session per catalog; violating it is an ErrConflict the
// session manager resolves by ending the current session first.
func (s *Store) CreateSession(ctx context.Context, projectPath string) (*types.Session, error) {
	sess := &types.Session{
		ID:          s.newID("ses"),
		ProjectPath: projectPath,
		StartedAt:   s.now(),
	}

	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO sessions (id, project_path, started_at, ended_at, summary) VALUES (?, ?, ?, NULL, '')`,
			sess.ID, sess.ProjectPath, types.FormatTime(sess.StartedAt))
		if err != nil {
			return fmt.Errorf("%w: a session is already open: %v", types.ErrConflict, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(broadcast.KindSessionUpdated, sess.ID)
	return sess, nil
}

// CurrentSession returns the session with ended_at unset, or nil when the
// catalog has none.
func (s *Store) CurrentSession(ctx context.Context) (*types.Session, error) {
	row := s.cat.DB().QueryRowContext(ctx, sessionColumns+` WHERE s.ended_at IS NULL`)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to load current session")
	}
	return sess, nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.cat.DB().QueryRowContext(ctx, sessionColumns+` WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to load session")
	}
	return sess, nil
}

// EndSession closes a session with the given summary. Ending an already
// closed session is an ErrConflict.
func (s *Store) EndSession(ctx context.Context, id, summary string) (*types.Session, error) {
	err := s.write(ctx, func(tx *sql.Tx) error {
		var endedAt sql.NullString
		err := tx.QueryRow(`SELECT ended_at FROM sessions WHERE id = ?`, id).Scan(&endedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: session %s", types.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		if endedAt.Valid {
			return fmt.Errorf("%w: session %s already ended", types.ErrConflict, id)
		}

		_, err = tx.Exec(`UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ?`,
			types.FormatTime(s.now()), summary, id)
		if err != nil {
			return fmt.Errorf("%w: failed to end session: %v", types.ErrIO, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(broadcast.KindSessionUpdated, id)
	return s.GetSession(ctx, id)
}

// AllSessions returns every session, oldest first, for export.
func (s *Store) AllSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.cat.DB().QueryContext(ctx, sessionColumns+` ORDER BY s.started_at ASC, s.id ASC`)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query sessions")
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapRead(ctx, err, "failed to scan session")
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read sessions")
	}
	return out, nil
}

const sessionColumns = `SELECT s.id, s.project_path, s.started_at, s.ended_at, s.summary,
	(SELECT COUNT(*) FROM activities a WHERE a.session_id = s.id) AS activity_count
	FROM sessions s`

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var startedAt string
	var endedAt sql.NullString

	err := row.Scan(&sess.ID, &sess.ProjectPath, &startedAt, &endedAt, &sess.Summary, &sess.ActivityCount)
	if err != nil {
		return nil, err
	}
	if sess.StartedAt, err = types.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.EndedAt, err = scanNullTime(endedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}
