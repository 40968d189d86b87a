// Package cortex wires the capabilities together: one Core value owns the
// embedder, clock, broadcaster, and the registry of open project catalogs.
// Tool semantics that span components (redact, summarize, session
// assignment, access bookkeeping) live here; the store stays pure SQL.
package cortex

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/catalog"
	"omnicortex/internal/clock"
	"omnicortex/internal/config"
	"omnicortex/internal/embedding"
	"omnicortex/internal/search"
	"omnicortex/internal/session"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// CatalogFileName is the per-project catalog file under the state directory.
const CatalogFileName = "cortex.db"

// GlobalCatalogFileName is the cross-project catalog file.
const GlobalCatalogFileName = "global.db"

// Options carries the capabilities a Core runs on. Zero fields get real
// defaults; tests inject fakes.
type Options struct {
	Config      config.Config
	Embedder    embedding.Embedder
	Clock       clock.Clock
	Broadcaster *broadcast.Broadcaster
	Logger      *zap.Logger
}

// Core owns the open catalogs and the shared capabilities. No globals: a
// process may hold several independent Cores.
type Core struct {
	cfg      config.Config
	embedder embedding.Embedder
	clock    clock.Clock
	bus      *broadcast.Broadcaster
	logger   *zap.Logger

	mu       sync.Mutex
	projects map[string]*Project
	closed   bool
}

// New builds a Core from options.
func New(opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Embedder == nil {
		opts.Embedder = embedding.FromConfig(opts.Config.Embedding)
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = broadcast.New(opts.Config.Broadcast.QueueSize, opts.Logger)
	}
	return &Core{
		cfg:      opts.Config,
		embedder: opts.Embedder,
		clock:    opts.Clock,
		bus:      opts.Broadcaster,
		logger:   opts.Logger,
		projects: make(map[string]*Project),
	}
}

// Broadcaster exposes the change bus for subscribers.
func (c *Core) Broadcaster() *broadcast.Broadcaster { return c.bus }

// Project returns the open handle for a project directory, opening its
// catalog lazily on first touch.
func (c *Core) Project(projectPath string) (*Project, error) {
	projectPath = filepath.Clean(projectPath)
	return c.open(projectPath, filepath.Join(projectPath, config.Dir, CatalogFileName))
}

// Global returns the cross-project catalog: an independent catalog the
// caller opts into via its own handle.
func (c *Core) Global() (*Project, error) {
	dir, err := config.GlobalDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	return c.open(dir, filepath.Join(dir, GlobalCatalogFileName))
}

func (c *Core) open(projectPath, catalogPath string) (*Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: core is closed", types.ErrConflict)
	}
	if p, ok := c.projects[catalogPath]; ok {
		return p, nil
	}

	cat, err := catalog.Open(catalogPath, c.embedder.Dimension(), c.logger)
	if err != nil {
		return nil, err
	}
	p := c.newProject(projectPath, cat)
	c.projects[catalogPath] = p
	return p, nil
}

func (c *Core) newProject(projectPath string, cat *catalog.Catalog) *Project {
	st := store.New(cat, c.embedder, c.clock, c.bus, projectPath, c.logger)
	return &Project{
		path:     projectPath,
		catalog:  cat,
		store:    st,
		engine:   search.New(st, c.embedder, c.clock, c.logger),
		sessions: session.NewManager(st, projectPath, c.logger),
		clock:    c.clock,
		bus:      c.bus,
		logger:   c.logger.With(zap.String("project", projectPath)),
	}
}

// Close closes every open catalog and the broadcaster.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for _, p := range c.projects {
		if err := p.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.projects = nil
	c.bus.Close()
	return firstErr
}

// Project is one open catalog plus the engines bound to it.
type Project struct {
	path     string
	catalog  *catalog.Catalog
	store    *store.Store
	engine   *search.Engine
	sessions *session.Manager
	clock    clock.Clock
	bus      *broadcast.Broadcaster
	logger   *zap.Logger
}

// Path returns the project directory this handle serves.
func (p *Project) Path() string { return p.path }

// Store exposes the storage engine, used by the CLI import/export commands.
func (p *Project) Store() *store.Store { return p.store }

// Catalog exposes the catalog handle, used by the external-change watcher.
func (p *Project) Catalog() *catalog.Catalog { return p.catalog }
