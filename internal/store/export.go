package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/types"
)

// ExportVersion identifies the export envelope layout.
const ExportVersion = 1

// TagRow is the side-table form of a tag in exports.
type TagRow struct {
	MemoryID string `json:"memory_id"`
	Tag      string `json:"tag"`
}

// Snapshot is the full catalog serialized for export and import.
type Snapshot struct {
	Version      int                  `json:"version"`
	Memories     []*types.Memory      `json:"memories"`
	Activities   []*types.Activity    `json:"activities"`
	Sessions     []*types.Session     `json:"sessions"`
	Links        []types.Link         `json:"links"`
	Tags         []TagRow             `json:"tags"`
	UserMessages []*types.UserMessage `json:"user_messages"`
}

// envelope wraps one record on a jsonl export line.
type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Snapshot reads the whole catalog. Reads share one context so the slices
// are mutually consistent under the single-writer discipline.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: ExportVersion}

	var err error
	if snap.Memories, err = s.FilteredMemories(ctx, Filter{Statuses: []types.MemoryStatus{
		types.StatusFresh, types.StatusNeedsReview, types.StatusOutdated, types.StatusArchived,
	}}); err != nil {
		return nil, err
	}
	if snap.Activities, err = s.AllActivities(ctx); err != nil {
		return nil, err
	}
	if snap.Sessions, err = s.AllSessions(ctx); err != nil {
		return nil, err
	}
	if snap.Links, err = s.AllLinks(ctx); err != nil {
		return nil, err
	}
	if snap.UserMessages, err = s.AllUserMessages(ctx); err != nil {
		return nil, err
	}
	for _, mem := range snap.Memories {
		for _, tag := range mem.Tags {
			snap.Tags = append(snap.Tags, TagRow{MemoryID: mem.ID, Tag: tag})
		}
	}
	return snap, nil
}

// ExportJSON writes the catalog as a single JSON object.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("%w: failed to encode export: %v", types.ErrIO, err)
	}
	return nil
}

// ExportJSONL writes one {kind, data} envelope per line.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	write := func(kind string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: failed to encode %s record: %v", types.ErrIO, kind, err)
		}
		return enc.Encode(envelope{Kind: kind, Data: data})
	}

	if err := write("meta", map[string]int{"version": snap.Version}); err != nil {
		return err
	}
	for _, sess := range snap.Sessions {
		if err := write("session", sess); err != nil {
			return err
		}
	}
	for _, mem := range snap.Memories {
		if err := write("memory", mem); err != nil {
			return err
		}
	}
	for _, link := range snap.Links {
		if err := write("link", link); err != nil {
			return err
		}
	}
	for _, act := range snap.Activities {
		if err := write("activity", act); err != nil {
			return err
		}
	}
	for _, msg := range snap.UserMessages {
		if err := write("user_message", msg); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot parses an export stream in either format.
func ReadSnapshot(r io.Reader, format string) (*Snapshot, error) {
	switch format {
	case "json", "":
		var snap Snapshot
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, types.Invalidf("format", "not a valid json export: %v", err)
		}
		return &snap, nil
	case "jsonl":
		snap := &Snapshot{Version: ExportVersion}
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var env envelope
			if err := json.Unmarshal(line, &env); err != nil {
				return nil, types.Invalidf("format", "bad jsonl line: %v", err)
			}
			if err := snap.absorb(env); err != nil {
				return nil, err
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		return snap, nil
	default:
		return nil, types.Invalidf("format", "must be json or jsonl")
	}
}

func (snap *Snapshot) absorb(env envelope) error {
	unmarshal := func(v interface{}) error {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return types.Invalidf("format", "bad %s record: %v", env.Kind, err)
		}
		return nil
	}
	switch env.Kind {
	case "meta":
		var meta struct {
			Version int `json:"version"`
		}
		if err := unmarshal(&meta); err != nil {
			return err
		}
		snap.Version = meta.Version
	case "memory":
		var mem types.Memory
		if err := unmarshal(&mem); err != nil {
			return err
		}
		snap.Memories = append(snap.Memories, &mem)
	case "activity":
		var act types.Activity
		if err := unmarshal(&act); err != nil {
			return err
		}
		snap.Activities = append(snap.Activities, &act)
	case "session":
		var sess types.Session
		if err := unmarshal(&sess); err != nil {
			return err
		}
		snap.Sessions = append(snap.Sessions, &sess)
	case "link":
		var link types.Link
		if err := unmarshal(&link); err != nil {
			return err
		}
		snap.Links = append(snap.Links, link)
	case "user_message":
		var msg types.UserMessage
		if err := unmarshal(&msg); err != nil {
			return err
		}
		snap.UserMessages = append(snap.UserMessages, &msg)
	default:
		return types.Invalidf("format", "unknown record kind %q", env.Kind)
	}
	return nil
}

// Import loads a snapshot into the catalog, preserving ids and timestamps.
// With restore=true, access_count and last_accessed survive; otherwise they
// reset, matching a re-learned catalog. Vectors are re-derived when the
// embedder is available and FTS rows are always rebuilt.
func (s *Store) Import(ctx context.Context, snap *Snapshot, restore bool) error {
	if snap.Version > ExportVersion {
		return fmt.Errorf("%w: export version %d, build understands %d", types.ErrSchemaNewer, snap.Version, ExportVersion)
	}

	// Embed outside the transaction; see CreateMemory.
	vectors := make(map[string][]float32, len(snap.Memories))
	for _, mem := range snap.Memories {
		if v := s.embedText(ctx, embedInput(mem.Content, mem.Context)); v != nil {
			vectors[mem.ID] = v
		}
	}

	err := s.write(ctx, func(tx *sql.Tx) error {
		for _, sess := range snap.Sessions {
			if _, err := tx.Exec(
				`INSERT INTO sessions (id, project_path, started_at, ended_at, summary) VALUES (?, ?, ?, ?, ?)`,
				sess.ID, sess.ProjectPath, types.FormatTime(sess.StartedAt), nullTime(sess.EndedAt), sess.Summary,
			); err != nil {
				return fmt.Errorf("%w: failed to import session %s: %v", types.ErrIO, sess.ID, err)
			}
		}

		for _, mem := range snap.Memories {
			accessCount := mem.AccessCount
			lastAccessed := mem.LastAccessed
			if !restore {
				accessCount = 0
				lastAccessed = nil
			}
			extraJSON, err := json.Marshal(orEmptyMap(mem.Extra))
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrInternal, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO memories (id, content, context, memory_type, status, importance_score,
					access_count, created_at, updated_at, last_accessed, extra)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				mem.ID, mem.Content, mem.Context, string(mem.Type), string(mem.Status),
				mem.ImportanceScore, accessCount,
				types.FormatTime(mem.CreatedAt), types.FormatTime(mem.UpdatedAt),
				nullTime(lastAccessed), string(extraJSON),
			); err != nil {
				return fmt.Errorf("%w: failed to import memory %s: %v", types.ErrIO, mem.ID, err)
			}
			if err := insertTags(tx, mem.ID, types.NormalizeTags(mem.Tags)); err != nil {
				return err
			}
			if err := upsertFTS(tx, mem.ID, mem.Content, mem.Context); err != nil {
				return err
			}
			if err := upsertVector(tx, mem.ID, vectors[mem.ID]); err != nil {
				return err
			}
		}

		for _, link := range snap.Links {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO memory_links (from_id, to_id, kind) VALUES (?, ?, ?)`,
				link.FromID, link.ToID, string(link.Kind),
			); err != nil {
				return fmt.Errorf("%w: failed to import link: %v", types.ErrIO, err)
			}
		}

		for _, act := range snap.Activities {
			if _, err := tx.Exec(`
				INSERT INTO activities (id, session_id, event_type, tool_name, tool_input, tool_output,
					success, error_message, duration_ms, file_path, timestamp,
					command_name, command_scope, mcp_server, skill_name, summary, summary_detail)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				act.ID, nullString(act.SessionID), string(act.EventType),
				act.ToolName, act.ToolInput, act.ToolOutput,
				boolInt(act.Success), act.ErrorMessage, nullInt64(act.DurationMs),
				act.FilePath, types.FormatTime(act.Timestamp),
				act.CommandName, string(act.CommandScope), act.MCPServer, act.SkillName,
				act.Summary, act.SummaryDetail,
			); err != nil {
				return fmt.Errorf("%w: failed to import activity %s: %v", types.ErrIO, act.ID, err)
			}
		}

		for _, msg := range snap.UserMessages {
			tones, err := json.Marshal(msg.ToneIndicators)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrInternal, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO user_messages (id, session_id, content, word_count, char_count, line_count,
					has_code_blocks, has_questions, has_commands, tone_indicators, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.ID, msg.SessionID, msg.Content,
				msg.WordCount, msg.CharCount, msg.LineCount,
				boolInt(msg.HasCodeBlocks), boolInt(msg.HasQuestions), boolInt(msg.HasCommands),
				string(tones), types.FormatTime(msg.Timestamp),
			); err != nil {
				return fmt.Errorf("%w: failed to import user message %s: %v", types.ErrIO, msg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(broadcast.KindDatabaseChanged, "")
	return nil
}
