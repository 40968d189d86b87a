// Package store is the storage engine over one catalog: every read and write
// on memories, activities, sessions, links, tags, and user messages. Writes
// run inside a transaction behind a per-catalog write gate; reads see the
// catalog's snapshot.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/catalog"
	"omnicortex/internal/clock"
	"omnicortex/internal/embedding"
	"omnicortex/internal/types"
)

// Store executes all catalog operations. One Store per open catalog.
type Store struct {
	cat         *catalog.Catalog
	embedder    embedding.Embedder
	clock       clock.Clock
	bus         *broadcast.Broadcaster
	projectPath string
	logger      *zap.Logger

	// writeMu is the per-catalog write gate: committed writes are totally
	// ordered and broadcast in commit order.
	writeMu sync.Mutex

	idMu       sync.Mutex
	lastMillis int64
}

// New wires a storage engine over an open catalog. The broadcaster may be
// nil; broadcasting never affects a write either way.
func New(cat *catalog.Catalog, emb embedding.Embedder, clk clock.Clock, bus *broadcast.Broadcaster, projectPath string, logger *zap.Logger) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cat:         cat,
		embedder:    emb,
		clock:       clk,
		bus:         bus,
		projectPath: projectPath,
		logger:      logger,
	}
}

// Catalog exposes the underlying catalog handle.
func (s *Store) Catalog() *catalog.Catalog { return s.cat }

// Close closes the underlying catalog.
func (s *Store) Close() error { return s.cat.Close() }

// now returns the clock's time at catalog precision.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// newID allocates "<prefix>-<millis>-<suffix>": a type prefix, a monotonic
// millisecond counter, and a short random suffix.
func (s *Store) newID(prefix string) string {
	s.idMu.Lock()
	millis := s.clock.Now().UnixMilli()
	if millis <= s.lastMillis {
		millis = s.lastMillis + 1
	}
	s.lastMillis = millis
	s.idMu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, millis, suffix)
}

// write runs fn inside a transaction behind the write gate. On success the
// catalog mtime is touched so external watchers see the commit. A deadline
// observed before the transaction begins leaves the catalog unchanged.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCanceled, err)
	}

	tx, err := s.cat.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", types.ErrIO, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", types.ErrCanceled, ctxErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", types.ErrCanceled, ctxErr)
		}
		return fmt.Errorf("%w: failed to commit: %v", types.ErrIO, err)
	}

	s.cat.Touch()
	return nil
}

// notify publishes a change event. Broadcast failures never reach the caller.
func (s *Store) notify(kind broadcast.Kind, entityID string) {
	if s.bus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("broadcast panicked", zap.Any("panic", r))
		}
	}()
	s.bus.Publish(broadcast.Event{
		Kind:        kind,
		EntityID:    entityID,
		ProjectPath: s.projectPath,
		Timestamp:   s.now(),
	})
}

// wrapRead classifies a failed read: a context that is already canceled or
// past its deadline is the caller's doing, anything else is storage I/O.
func wrapRead(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", types.ErrCanceled, ctxErr)
	}
	return fmt.Errorf("%w: %s: %v", types.ErrIO, msg, err)
}

// embedText derives the stored vector for a memory. Embedder failures and
// unavailability both produce the no-vector outcome; writes still succeed.
func (s *Store) embedText(ctx context.Context, text string) []float32 {
	if s.embedder == nil || !s.embedder.IsAvailable() {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		s.logger.Warn("embedding failed, storing without vector", zap.Error(err))
		return nil
	}
	return vecs[0]
}

// embedInput is what the embedder sees for a memory: content plus context.
func embedInput(content, memContext string) string {
	if memContext == "" {
		return content
	}
	return content + " " + memContext
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullTime converts an optional timestamp for storage.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return types.FormatTime(*t)
}

// scanNullTime parses an optional stored timestamp.
func scanNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := types.ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
