// Package catalog owns the on-disk SQLite store backing one project: schema,
// versioned migrations, the advisory lock, and the mtime touch that lets
// out-of-process watchers notice committed writes.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"omnicortex/internal/types"
)

// Catalog is an open handle to one on-disk store. A handle holds the advisory
// lock for its lifetime; writes from other processes are detected via mtime.
type Catalog struct {
	db     *sql.DB
	path   string
	dim    int
	lock   *os.File
	logger *zap.Logger
}

// Open creates or opens the catalog at path, applies pending migrations, and
// pins the embedding dimension. Reopening with a different dimension fails
// with ErrEmbeddingMismatch. The special path ":memory:" opens a throwaway
// in-memory catalog for tests.
func Open(path string, dim int, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lock *os.File
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create catalog directory: %v", types.ErrIO, err)
		}
		var err error
		lock, err = acquireLock(path + ".lock")
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("%w: failed to open catalog: %v", types.ErrIO, err)
	}

	// One connection keeps PRAGMAs and in-memory catalogs coherent; the
	// store serializes writes above this layer anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("%w: failed to apply %q: %v", types.ErrIO, pragma, err)
		}
	}

	c := &Catalog{db: db, path: path, dim: dim, lock: lock, logger: logger}
	if err := c.migrate(); err != nil {
		db.Close()
		releaseLock(lock)
		return nil, err
	}

	return c, nil
}

// DB exposes the underlying database to the storage engine.
func (c *Catalog) DB() *sql.DB { return c.db }

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.path }

// Dimension returns the vector dimension pinned at initialization.
func (c *Catalog) Dimension() int { return c.dim }

// VecEnabled reports whether the sqlite-vec ANN module is compiled in.
func (c *Catalog) VecEnabled() bool { return vecEnabled }

// SchemaVersion reads the applied schema version from the meta table.
func (c *Catalog) SchemaVersion() (int, error) {
	var v int
	if err := c.db.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: failed to read schema version: %v", types.ErrIO, err)
	}
	return v, nil
}

// Touch bumps the catalog file's mtime so filesystem watchers see the write.
// Best-effort: failures are logged and swallowed.
func (c *Catalog) Touch() {
	if c.path == ":memory:" {
		return
	}
	now := time.Now()
	if err := os.Chtimes(c.path, now, now); err != nil {
		c.logger.Debug("failed to touch catalog", zap.String("path", c.path), zap.Error(err))
	}
}

// Close releases the database handle and the advisory lock.
func (c *Catalog) Close() error {
	err := c.db.Close()
	releaseLock(c.lock)
	return err
}
