package catalog

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"omnicortex/internal/types"
)

// Schema versions:
// v1: core tables (memories, tags, links, sessions, activities)
// v2: full-text index over memory content and context
// v3: vector side-table for embeddings
// v4: activity analytics projections (command/mcp/skill columns)
// v5: user message capture
const CurrentSchemaVersion = 5

// migration is one append-only schema step. Each runs in a single transaction
// and is written to be idempotent at its own version.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "core tables", migrateCoreTables},
	{2, "full-text index", migrateFTS},
	{3, "vector side-table", migrateVectors},
	{4, "activity analytics", migrateActivityAnalytics},
	{5, "user messages", migrateUserMessages},
}

// migrate brings the catalog schema up to CurrentSchemaVersion and pins the
// embedding dimension. A stored version newer than this build refuses to open.
func (c *Catalog) migrate() error {
	if _, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			embedding_dim INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("%w: failed to create meta table: %v", types.ErrIO, err)
	}

	var stored, storedDim int
	err := c.db.QueryRow(`SELECT schema_version, embedding_dim FROM meta WHERE id = 1`).Scan(&stored, &storedDim)
	switch {
	case err == sql.ErrNoRows:
		// Fresh catalog: pin the dimension now.
		if _, err := c.db.Exec(`INSERT INTO meta (id, schema_version, embedding_dim) VALUES (1, 0, ?)`, c.dim); err != nil {
			return fmt.Errorf("%w: failed to initialize meta: %v", types.ErrIO, err)
		}
		storedDim = c.dim
	case err != nil:
		return fmt.Errorf("%w: failed to read schema version: %v", types.ErrIO, err)
	}

	if stored > CurrentSchemaVersion {
		return fmt.Errorf("%w: catalog version %d, build understands %d", types.ErrSchemaNewer, stored, CurrentSchemaVersion)
	}
	if storedDim != c.dim {
		return fmt.Errorf("%w: catalog initialized with dimension %d, embedder reports %d", types.ErrEmbeddingMismatch, storedDim, c.dim)
	}

	for _, m := range migrations {
		if m.version <= stored {
			continue
		}
		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: failed to begin migration %d: %v", types.ErrIO, m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: migration %d (%s) failed: %v", types.ErrIO, m.version, m.name, err)
		}
		if _, err := tx.Exec(`UPDATE meta SET schema_version = ? WHERE id = 1`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: failed to record migration %d: %v", types.ErrIO, m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit migration %d: %v", types.ErrIO, m.version, err)
		}
		c.logger.Info("applied catalog migration",
			zap.Int("version", m.version),
			zap.String("name", m.name))
	}

	return nil
}

func migrateCoreTables(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		memory_type TEXT NOT NULL DEFAULT 'other',
		status TEXT NOT NULL DEFAULT 'fresh',
		importance_score INTEGER NOT NULL DEFAULT 50,
		access_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_accessed TEXT,
		extra TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
	CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories(last_accessed);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance_score);

	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		UNIQUE(memory_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

	CREATE TABLE IF NOT EXISTS memory_links (
		from_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		to_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		UNIQUE(from_id, to_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_links_to ON memory_links(to_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		summary TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_open
		ON sessions((ended_at IS NULL)) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		session_id TEXT REFERENCES sessions(id),
		event_type TEXT NOT NULL,
		tool_name TEXT NOT NULL DEFAULT '',
		tool_input TEXT NOT NULL DEFAULT '',
		tool_output TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 1,
		error_message TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER,
		file_path TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		summary_detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp);
	CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id);
	CREATE INDEX IF NOT EXISTS idx_activities_tool ON activities(tool_name);
	`)
	return err
}

func migrateFTS(tx *sql.Tx) error {
	// External-content tables would save space but complicate the forget
	// cascade; a contentful FTS5 table keeps row maintenance explicit.
	_, err := tx.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		id UNINDEXED,
		content,
		context,
		tokenize = 'unicode61'
	)`)
	return err
}

func migrateVectors(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS memory_vectors (
		memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
		dim INTEGER NOT NULL,
		embedding BLOB NOT NULL
	)`)
	return err
}

func migrateActivityAnalytics(tx *sql.Tx) error {
	for _, col := range []struct{ name, def string }{
		{"command_name", "TEXT NOT NULL DEFAULT ''"},
		{"command_scope", "TEXT NOT NULL DEFAULT ''"},
		{"mcp_server", "TEXT NOT NULL DEFAULT ''"},
		{"skill_name", "TEXT NOT NULL DEFAULT ''"},
	} {
		if columnExists(tx, "activities", col.name) {
			continue
		}
		if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE activities ADD COLUMN %s %s", col.name, col.def)); err != nil {
			return err
		}
	}
	return nil
}

func migrateUserMessages(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS user_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		char_count INTEGER NOT NULL DEFAULT 0,
		line_count INTEGER NOT NULL DEFAULT 0,
		has_code_blocks INTEGER NOT NULL DEFAULT 0,
		has_questions INTEGER NOT NULL DEFAULT 0,
		has_commands INTEGER NOT NULL DEFAULT 0,
		tone_indicators TEXT NOT NULL DEFAULT '[]',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_messages_session ON user_messages(session_id);
	`)
	return err
}

// columnExists checks a column via PRAGMA table_info, keeping the ALTER
// migrations idempotent when re-run at their own version.
func columnExists(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
