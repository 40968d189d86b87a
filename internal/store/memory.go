package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/embedding"
	"omnicortex/internal/types"
)

// =============================================================================
// CREATE
// =============================================================================

// CreateMemoryParams carries the caller-supplied fields for a new memory.
type CreateMemoryParams struct {
	Content    string
	Type       types.MemoryType
	Context    string
	Tags       []string
	Importance *int
	RelatedIDs []string
	Extra      map[string]string
}

// CreateMemory inserts a memory with status fresh, its tags, relates_to
// links for every related id, the FTS row, and the vector when the embedder
// is available. A missing related id rolls the whole write back.
func (s *Store) CreateMemory(ctx context.Context, p CreateMemoryParams) (*types.Memory, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, types.Invalidf("content", "must not be empty")
	}
	if p.Type == "" {
		p.Type = types.TypeOther
	}
	if !p.Type.Valid() {
		return nil, types.Invalidf("type", "unknown memory type %q", p.Type)
	}
	importance := types.DefaultImportance
	if p.Importance != nil {
		importance = *p.Importance
	}
	if importance < 0 || importance > 100 {
		return nil, types.Invalidf("importance", "must be in [0,100], got %d", importance)
	}

	now := s.now()
	mem := &types.Memory{
		ID:              s.newID("mem"),
		Content:         content,
		Context:         strings.TrimSpace(p.Context),
		Type:            p.Type,
		Status:          types.StatusFresh,
		ImportanceScore: importance,
		CreatedAt:       now,
		UpdatedAt:       now,
		Tags:            types.NormalizeTags(p.Tags),
		Extra:           p.Extra,
	}

	// Embedder call happens before the transaction opens; a slow model must
	// not hold the catalog.
	vector := s.embedText(ctx, embedInput(mem.Content, mem.Context))

	err := s.write(ctx, func(tx *sql.Tx) error {
		extraJSON, err := json.Marshal(orEmptyMap(mem.Extra))
		if err != nil {
			return fmt.Errorf("%w: failed to encode extra: %v", types.ErrInternal, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO memories (id, content, context, memory_type, status, importance_score,
				access_count, created_at, updated_at, last_accessed, extra)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, NULL, ?)`,
			mem.ID, mem.Content, mem.Context, string(mem.Type), string(mem.Status),
			mem.ImportanceScore, types.FormatTime(mem.CreatedAt), types.FormatTime(mem.UpdatedAt),
			string(extraJSON),
		); err != nil {
			return fmt.Errorf("%w: failed to insert memory: %v", types.ErrIO, err)
		}

		if err := insertTags(tx, mem.ID, mem.Tags); err != nil {
			return err
		}

		for _, related := range p.RelatedIDs {
			if err := memoryExists(tx, related); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO memory_links (from_id, to_id, kind) VALUES (?, ?, ?)`,
				mem.ID, related, string(types.LinkRelatesTo),
			); err != nil {
				return fmt.Errorf("%w: failed to insert link: %v", types.ErrIO, err)
			}
		}

		if err := upsertFTS(tx, mem.ID, mem.Content, mem.Context); err != nil {
			return err
		}
		return upsertVector(tx, mem.ID, vector)
	})
	if err != nil {
		return nil, err
	}

	s.notify(broadcast.KindMemoryCreated, mem.ID)
	return mem, nil
}

// =============================================================================
// READ
// =============================================================================

const memoryColumns = `m.id, m.content, m.context, m.memory_type, m.status,
	m.importance_score, m.access_count, m.created_at, m.updated_at, m.last_accessed, m.extra`

// GetMemory loads one memory with its tags. Access bookkeeping is the
// caller's decision; see TouchMemories.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.cat.DB().QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id)

	mem, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to load memory")
	}

	if err := s.loadTags(ctx, []*types.Memory{mem}); err != nil {
		return nil, err
	}
	return mem, nil
}

// ListOptions controls sorting and pagination for ListMemories.
type ListOptions struct {
	Filter    Filter
	SortBy    string // created_at | last_accessed | importance_score | access_count
	SortOrder string // asc | desc
	Limit     int
	Offset    int
}

// listSortColumns is the closed set of sortable columns.
var listSortColumns = map[string]string{
	"created_at":       "m.created_at",
	"last_accessed":    "m.last_accessed",
	"importance_score": "m.importance_score",
	"access_count":     "m.access_count",
}

// MaxLimit caps every paginated read.
const MaxLimit = 200

// DefaultLimit applies when the caller does not paginate explicitly.
const DefaultLimit = 20

// ClampLimit applies the default and the hard cap.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ListMemories returns memories matching the filter in a stable order. The
// default filter hides archived and stale rows; an explicit status filter
// shows exactly what it names.
func (s *Store) ListMemories(ctx context.Context, opts ListOptions) ([]*types.Memory, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Filter.Statuses) == 0 {
		opts.Filter.ExcludeStale = true
	}

	sortCol, ok := listSortColumns[opts.SortBy]
	if opts.SortBy == "" {
		sortCol = "m.created_at"
	} else if !ok {
		return nil, types.Invalidf("sort_by", "unknown sort column %q", opts.SortBy)
	}
	order := "DESC"
	switch strings.ToLower(opts.SortOrder) {
	case "", "desc":
	case "asc":
		order = "ASC"
	default:
		return nil, types.Invalidf("sort_order", "must be asc or desc")
	}

	where, args := opts.Filter.whereClause(s.now())
	limit := ClampLimit(opts.Limit)
	args = append(args, limit, opts.Offset)

	query := fmt.Sprintf(`SELECT %s FROM memories m WHERE %s
		ORDER BY %s %s, m.id DESC LIMIT ? OFFSET ?`,
		memoryColumns, where, sortCol, order)

	return s.queryMemories(ctx, query, args...)
}

// MemoriesByIDs loads memories preserving the order of ids. Missing ids are
// skipped, not errors; ranked reads tolerate rows deleted mid-flight.
func (s *Store) MemoriesByIDs(ctx context.Context, ids []string) ([]*types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	mems, err := s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	out := make([]*types.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// queryMemories runs a memory select and attaches tags in one extra query so
// tag lists cannot tear against the rows.
func (s *Store) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*types.Memory, error) {
	rows, err := s.cat.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapRead(ctx, err, "failed to query memories")
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, wrapRead(ctx, err, "failed to scan memory")
		}
		out = append(out, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRead(ctx, err, "failed to read memories")
	}

	if err := s.loadTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var mem types.Memory
	var memType, status, createdAt, updatedAt, extraJSON string
	var lastAccessed sql.NullString

	err := row.Scan(&mem.ID, &mem.Content, &mem.Context, &memType, &status,
		&mem.ImportanceScore, &mem.AccessCount, &createdAt, &updatedAt, &lastAccessed, &extraJSON)
	if err != nil {
		return nil, err
	}

	mem.Type = types.MemoryType(memType)
	mem.Status = types.MemoryStatus(status)
	if mem.CreatedAt, err = types.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if mem.UpdatedAt, err = types.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if mem.LastAccessed, err = scanNullTime(lastAccessed); err != nil {
		return nil, err
	}
	if extraJSON != "" && extraJSON != "{}" {
		if err := json.Unmarshal([]byte(extraJSON), &mem.Extra); err != nil {
			return nil, err
		}
	}
	return &mem, nil
}

// loadTags attaches tags to the given memories with one query.
func (s *Store) loadTags(ctx context.Context, mems []*types.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	byID := make(map[string]*types.Memory, len(mems))
	args := make([]interface{}, 0, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
		args = append(args, m.ID)
	}

	rows, err := s.cat.DB().QueryContext(ctx,
		`SELECT memory_id, tag FROM memory_tags WHERE memory_id IN (`+placeholders(len(mems))+`) ORDER BY rowid`,
		args...)
	if err != nil {
		return wrapRead(ctx, err, "failed to load tags")
	}
	defer rows.Close()

	for rows.Next() {
		var memID, tag string
		if err := rows.Scan(&memID, &tag); err != nil {
			return wrapRead(ctx, err, "failed to scan tag")
		}
		if m, ok := byID[memID]; ok {
			m.Tags = append(m.Tags, tag)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapRead(ctx, err, "failed to read tags")
	}
	return nil
}

// =============================================================================
// UPDATE
// =============================================================================

// MemoryPatch updates only the fields that are set. A nil slice leaves tags
// untouched; an empty non-nil slice clears them.
type MemoryPatch struct {
	Content    *string
	Context    *string
	Type       *types.MemoryType
	Status     *types.MemoryStatus
	Importance *int
	Tags       []string
	TagsSet    bool
	Extra      map[string]string
}

// UpdateMemory applies the patch, re-embeds when content or context changed,
// and bumps updated_at. Archiving keeps the row and its links; default reads
// simply stop returning it.
func (s *Store) UpdateMemory(ctx context.Context, id string, patch MemoryPatch) (*types.Memory, error) {
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return nil, types.Invalidf("patch.content", "must not be empty")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, types.Invalidf("patch.type", "unknown memory type %q", *patch.Type)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, types.Invalidf("patch.status", "unknown status %q", *patch.Status)
	}
	if patch.Importance != nil && (*patch.Importance < 0 || *patch.Importance > 100) {
		return nil, types.Invalidf("patch.importance", "must be in [0,100]")
	}

	// Serialize against other writers before the read-modify-write cycle.
	s.writeMu.Lock()
	current, err := s.GetMemory(ctx, id)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}

	updated := *current
	if patch.Content != nil {
		updated.Content = strings.TrimSpace(*patch.Content)
	}
	if patch.Context != nil {
		updated.Context = strings.TrimSpace(*patch.Context)
	}
	if patch.Type != nil {
		updated.Type = *patch.Type
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.Importance != nil {
		updated.ImportanceScore = *patch.Importance
	}
	if patch.TagsSet {
		updated.Tags = types.NormalizeTags(patch.Tags)
	}
	if patch.Extra != nil {
		updated.Extra = patch.Extra
	}

	now := s.now()
	if now.Before(updated.CreatedAt) {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("%w: updated_at would precede created_at", types.ErrConflict)
	}
	updated.UpdatedAt = now

	reindex := updated.Content != current.Content || updated.Context != current.Context
	var vector []float32
	if reindex {
		vector = s.embedText(ctx, embedInput(updated.Content, updated.Context))
	}

	err = func() error {
		defer s.writeMu.Unlock()
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrCanceled, err)
		}
		tx, err := s.cat.DB().BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", types.ErrIO, err)
		}

		if err := applyMemoryUpdate(tx, &updated, patch, reindex, vector); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit: %v", types.ErrIO, err)
		}
		s.cat.Touch()
		return nil
	}()
	if err != nil {
		return nil, err
	}

	s.notify(broadcast.KindMemoryUpdated, id)
	return &updated, nil
}

func applyMemoryUpdate(tx *sql.Tx, mem *types.Memory, patch MemoryPatch, reindex bool, vector []float32) error {
	extraJSON, err := json.Marshal(orEmptyMap(mem.Extra))
	if err != nil {
		return fmt.Errorf("%w: failed to encode extra: %v", types.ErrInternal, err)
	}

	res, err := tx.Exec(`
		UPDATE memories SET content = ?, context = ?, memory_type = ?, status = ?,
			importance_score = ?, updated_at = ?, extra = ?
		WHERE id = ?`,
		mem.Content, mem.Context, string(mem.Type), string(mem.Status),
		mem.ImportanceScore, types.FormatTime(mem.UpdatedAt), string(extraJSON), mem.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to update memory: %v", types.ErrIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", types.ErrNotFound, mem.ID)
	}

	if patch.TagsSet {
		if _, err := tx.Exec(`DELETE FROM memory_tags WHERE memory_id = ?`, mem.ID); err != nil {
			return fmt.Errorf("%w: failed to clear tags: %v", types.ErrIO, err)
		}
		if err := insertTags(tx, mem.ID, mem.Tags); err != nil {
			return err
		}
	}

	if reindex {
		if err := upsertFTS(tx, mem.ID, mem.Content, mem.Context); err != nil {
			return err
		}
		if err := upsertVector(tx, mem.ID, vector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// FORGET
// =============================================================================

// ForgetMemory hard-deletes a memory, cascading tags, links in both
// directions, the FTS row, and the vector. Returns how many memories were
// removed: 0 for an unknown id, which is success, not an error.
func (s *Store) ForgetMemory(ctx context.Context, id string) (int, error) {
	removed := 0
	err := s.write(ctx, func(tx *sql.Tx) error {
		// Tags, links, and the vector go with the row via FK cascade; the
		// FTS table has no FK and is cleaned explicitly.
		if _, err := tx.Exec(`DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("%w: failed to delete fts row: %v", types.ErrIO, err)
		}
		res, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("%w: failed to delete memory: %v", types.ErrIO, err)
		}
		n, _ := res.RowsAffected()
		removed = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.notify(broadcast.KindMemoryDeleted, id)
	}
	return removed, nil
}

// =============================================================================
// ACCESS BOOKKEEPING
// =============================================================================

// TouchMemories records that a read returned these memories: one batched
// update incrementing access_count and setting last_accessed.
func (s *Store) TouchMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := types.FormatTime(s.now())
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ?
			 WHERE id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return fmt.Errorf("%w: failed to touch memories: %v", types.ErrIO, err)
		}
		return nil
	})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func insertTags(tx *sql.Tx, memoryID string, tags []string) error {
	for _, tag := range tags {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`,
			memoryID, tag); err != nil {
			return fmt.Errorf("%w: failed to insert tag: %v", types.ErrIO, err)
		}
	}
	return nil
}

func memoryExists(tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	return nil
}

func upsertFTS(tx *sql.Tx, id, content, memContext string) error {
	if _, err := tx.Exec(`DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: failed to clear fts row: %v", types.ErrIO, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO memories_fts (id, content, context) VALUES (?, ?, ?)`,
		id, content, memContext); err != nil {
		return fmt.Errorf("%w: failed to index memory: %v", types.ErrIO, err)
	}
	return nil
}

func upsertVector(tx *sql.Tx, id string, vector []float32) error {
	if _, err := tx.Exec(`DELETE FROM memory_vectors WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("%w: failed to clear vector: %v", types.ErrIO, err)
	}
	if vector == nil {
		// No-vector outcome: the row's absence is the sentinel.
		return nil
	}
	if _, err := tx.Exec(
		`INSERT INTO memory_vectors (memory_id, dim, embedding) VALUES (?, ?, ?)`,
		id, len(vector), embedding.EncodeVector(vector)); err != nil {
		return fmt.Errorf("%w: failed to store vector: %v", types.ErrIO, err)
	}
	return nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
