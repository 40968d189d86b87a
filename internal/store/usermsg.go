package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"omnicortex/internal/types"
)

// InsertUserMessage persists a captured user utterance with its precomputed
// statistics (see summarize.AnalyzeMessage).
func (s *Store) InsertUserMessage(ctx context.Context, msg *types.UserMessage) (*types.UserMessage, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, types.Invalidf("content", "must not be empty")
	}

	stored := *msg
	stored.ID = s.newID("msg")
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}

	tones, err := json.Marshal(stored.ToneIndicators)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode tones: %v", types.ErrInternal, err)
	}

	err = s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO user_messages (id, session_id, content, word_count, char_count, line_count,
				has_code_blocks, has_questions, has_commands, tone_indicators, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.SessionID, stored.Content,
			stored.WordCount, stored.CharCount, stored.LineCount,
			boolInt(stored.HasCodeBlocks), boolInt(stored.HasQuestions), boolInt(stored.HasCommands),
			string(tones), types.FormatTime(stored.Timestamp))
		if err != nil {
			return fmt.Errorf("%w: failed to insert user message: %v", types.ErrIO, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// AllUserMessages returns every captured message, oldest first, for export
// and the style-analysis adapter.
func (s *Store) AllUserMessages(ctx context.Context) ([]*types.UserMessage, error) {
	rows, err := s.cat.DB().QueryContext(ctx, `
		SELECT id, session_id, content, word_count, char_count, line_count,
			has_code_blocks, has_questions, has_commands, tone_indicators, timestamp
		FROM user_messages ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query user messages")
	}
	defer rows.Close()

	var out []*types.UserMessage
	for rows.Next() {
		var msg types.UserMessage
		var codeBlocks, questions, commands int
		var tones, timestamp string
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Content,
			&msg.WordCount, &msg.CharCount, &msg.LineCount,
			&codeBlocks, &questions, &commands, &tones, &timestamp)
		if err != nil {
			return nil, wrapRead(ctx, err, "failed to scan user message")
		}
		msg.HasCodeBlocks = codeBlocks != 0
		msg.HasQuestions = questions != 0
		msg.HasCommands = commands != 0
		if err := json.Unmarshal([]byte(tones), &msg.ToneIndicators); err != nil {
			return nil, fmt.Errorf("%w: failed to decode tones: %v", types.ErrIO, err)
		}
		if msg.Timestamp, err = types.ParseTime(timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read user messages")
	}
	return out, nil
}
