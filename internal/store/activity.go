package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/types"
)

// InsertActivity appends one observed tool call. The caller (the ingestion
// path) has already redacted the payloads and derived summaries and
// projections; this layer only enforces row invariants and persists.
func (s *Store) InsertActivity(ctx context.Context, act *types.Activity) (*types.Activity, error) {
	if !act.EventType.Valid() {
		return nil, types.Invalidf("event_type", "unknown event type %q", act.EventType)
	}
	if !act.Success && act.ErrorMessage == "" {
		return nil, types.Invalidf("error_message", "required when success is false")
	}
	if act.DurationMs != nil && *act.DurationMs < 0 {
		return nil, types.Invalidf("duration_ms", "must be non-negative")
	}

	stored := *act
	stored.ID = s.newID("act")
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}

	err := s.write(ctx, func(tx *sql.Tx) error {
		if stored.SessionID != "" {
			var one int
			err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, stored.SessionID).Scan(&one)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: session %s", types.ErrNotFound, stored.SessionID)
			}
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrIO, err)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO activities (id, session_id, event_type, tool_name, tool_input, tool_output,
				success, error_message, duration_ms, file_path, timestamp,
				command_name, command_scope, mcp_server, skill_name, summary, summary_detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, nullString(stored.SessionID), string(stored.EventType),
			stored.ToolName, stored.ToolInput, stored.ToolOutput,
			boolInt(stored.Success), stored.ErrorMessage, nullInt64(stored.DurationMs),
			stored.FilePath, types.FormatTime(stored.Timestamp),
			stored.CommandName, string(stored.CommandScope), stored.MCPServer, stored.SkillName,
			stored.Summary, stored.SummaryDetail)
		if err != nil {
			return fmt.Errorf("%w: failed to insert activity: %v", types.ErrIO, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(broadcast.KindActivityLogged, stored.ID)
	return &stored, nil
}

// ActivityFilter narrows activity reads.
type ActivityFilter struct {
	SessionID string
	ToolName  string
	EventType types.EventType
	Since     *time.Time
	Until     *time.Time
}

// GetActivities returns activities newest first.
func (s *Store) GetActivities(ctx context.Context, f ActivityFilter, limit, offset int) ([]*types.Activity, error) {
	if f.EventType != "" && !f.EventType.Valid() {
		return nil, types.Invalidf("filters.event_type", "unknown event type %q", f.EventType)
	}

	conds := []string{"1=1"}
	var args []interface{}
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.ToolName != "" {
		conds = append(conds, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, types.FormatTime(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, types.FormatTime(*f.Until))
	}
	args = append(args, ClampLimit(limit), offset)

	query := activityColumns + ` WHERE ` + joinAnd(conds) + `
		ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`

	return s.queryActivities(ctx, query, args...)
}

// SessionActivities returns every activity of a session, oldest first, for
// summary derivation and export.
func (s *Store) SessionActivities(ctx context.Context, sessionID string) ([]*types.Activity, error) {
	return s.queryActivities(ctx,
		activityColumns+` WHERE session_id = ? ORDER BY timestamp ASC, id ASC`, sessionID)
}

// AllActivities returns the full activity log, oldest first, for export.
func (s *Store) AllActivities(ctx context.Context) ([]*types.Activity, error) {
	return s.queryActivities(ctx, activityColumns+` ORDER BY timestamp ASC, id ASC`)
}

const activityColumns = `SELECT id, session_id, event_type, tool_name, tool_input, tool_output,
	success, error_message, duration_ms, file_path, timestamp,
	command_name, command_scope, mcp_server, skill_name, summary, summary_detail
	FROM activities`

func (s *Store) queryActivities(ctx context.Context, query string, args ...interface{}) ([]*types.Activity, error) {
	rows, err := s.cat.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query activities")
	}
	defer rows.Close()

	var out []*types.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, wrapRead(ctx, err, "failed to scan activity")
		}
		out = append(out, act)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read activities")
	}
	return out, nil
}

func scanActivity(row rowScanner) (*types.Activity, error) {
	var act types.Activity
	var sessionID sql.NullString
	var eventType, scope, timestamp string
	var success int
	var duration sql.NullInt64

	err := row.Scan(&act.ID, &sessionID, &eventType, &act.ToolName, &act.ToolInput, &act.ToolOutput,
		&success, &act.ErrorMessage, &duration, &act.FilePath, &timestamp,
		&act.CommandName, &scope, &act.MCPServer, &act.SkillName, &act.Summary, &act.SummaryDetail)
	if err != nil {
		return nil, err
	}

	act.SessionID = sessionID.String
	act.EventType = types.EventType(eventType)
	act.CommandScope = types.CommandScope(scope)
	act.Success = success != 0
	if duration.Valid {
		d := duration.Int64
		act.DurationMs = &d
	}
	if act.Timestamp, err = types.ParseTime(timestamp); err != nil {
		return nil, err
	}
	return &act, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}
