// Package session keeps track of the current session for a project. The
// database is the source of truth (the partial unique index allows at most
// one open session); a small state file mirrors the current id so hook
// processes spawned per-event can find it without a query.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"omnicortex/internal/config"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// StateFileName is the sidecar holding the current session id.
const StateFileName = "current_session.json"

// state is the on-disk form of the session pointer.
type state struct {
	CurrentSessionID *string `json:"current_session_id"`
	StartedAt        *string `json:"started_at"`
}

// Manager resolves, starts, and ends the current session of one project.
type Manager struct {
	store       *store.Store
	projectPath string
	statePath   string
	logger      *zap.Logger

	mu sync.Mutex
}

// NewManager builds a session manager rooted at the project directory.
func NewManager(st *store.Store, projectPath string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       st,
		projectPath: projectPath,
		statePath:   filepath.Join(projectPath, config.Dir, StateFileName),
		logger:      logger,
	}
}

// Current returns the open session, or nil when the project has none.
func (m *Manager) Current(ctx context.Context) (*types.Session, error) {
	return m.store.CurrentSession(ctx)
}

// Ensure returns the open session, starting one when none exists. Hook
// ingestion calls this for every event so sessions need no explicit
// bracketing.
func (m *Manager) Ensure(ctx context.Context) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		m.writeState(sess)
		return sess, nil
	}
	return m.startLocked(ctx)
}

// Start begins a new session, ending the current one first when it exists.
func (m *Manager) Start(ctx context.Context) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if _, err := m.endLocked(ctx, current); err != nil {
			return nil, err
		}
	}
	return m.startLocked(ctx)
}

// End closes the current session, deriving its summary from the recorded
// activity briefs, and clears the state file. Ending with no session open is
// an ErrConflict.
func (m *Manager) End(ctx context.Context) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: no session is open", types.ErrConflict)
	}
	return m.endLocked(ctx, current)
}

func (m *Manager) startLocked(ctx context.Context) (*types.Session, error) {
	sess, err := m.store.CreateSession(ctx, m.projectPath)
	if err != nil {
		return nil, err
	}
	m.writeState(sess)
	return sess, nil
}

func (m *Manager) endLocked(ctx context.Context, current *types.Session) (*types.Session, error) {
	summary, err := m.deriveSummary(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	ended, err := m.store.EndSession(ctx, current.ID, summary)
	if err != nil {
		return nil, err
	}
	m.clearState()
	return ended, nil
}

// maxSummaryBriefs bounds how many activity briefs a session summary joins.
const maxSummaryBriefs = 20

// deriveSummary joins the distinct activity briefs of the session in order.
func (m *Manager) deriveSummary(ctx context.Context, sessionID string) (string, error) {
	acts, err := m.store.SessionActivities(ctx, sessionID)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(acts))
	var briefs []string
	for _, act := range acts {
		if act.Summary == "" || seen[act.Summary] {
			continue
		}
		seen[act.Summary] = true
		briefs = append(briefs, act.Summary)
		if len(briefs) == maxSummaryBriefs {
			break
		}
	}
	return strings.Join(briefs, "; "), nil
}

// writeState mirrors the current session id to the state file. State file
// failures are logged, never surfaced: the database stays authoritative.
func (m *Manager) writeState(sess *types.Session) {
	started := types.FormatTime(sess.StartedAt)
	m.persist(state{CurrentSessionID: &sess.ID, StartedAt: &started})
}

func (m *Manager) clearState() {
	m.persist(state{})
}

// persist writes the state atomically: temp file in the same directory, then
// rename.
func (m *Manager) persist(st state) {
	data, err := json.Marshal(st)
	if err != nil {
		m.logger.Warn("failed to encode session state", zap.Error(err))
		return
	}
	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Warn("failed to create state directory", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, StateFileName+".tmp-*")
	if err != nil {
		m.logger.Warn("failed to create temp state file", zap.Error(err))
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		m.logger.Warn("failed to write session state", zap.NamedError("write", werr), zap.NamedError("close", cerr))
		return
	}
	if err := os.Rename(tmp.Name(), m.statePath); err != nil {
		os.Remove(tmp.Name())
		m.logger.Warn("failed to replace session state", zap.Error(err))
	}
}

// ReadState returns the persisted session pointer, empty when the file is
// missing or unreadable.
func (m *Manager) ReadState() (sessionID string, ok bool) {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return "", false
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		m.logger.Warn("corrupt session state file", zap.Error(err))
		return "", false
	}
	if st.CurrentSessionID == nil || *st.CurrentSessionID == "" {
		return "", false
	}
	return *st.CurrentSessionID, true
}
