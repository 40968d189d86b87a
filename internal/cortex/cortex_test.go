package cortex

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/catalog"
	"omnicortex/internal/clock"
	"omnicortex/internal/config"
	"omnicortex/internal/search"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

const testDim = 4

type stubEmbedder struct {
	available bool
}

func (s *stubEmbedder) Dimension() int    { return testDim }
func (s *stubEmbedder) IsAvailable() bool { return s.available }
func (s *stubEmbedder) Name() string      { return "stub" }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type coreEnv struct {
	core    *Core
	project *Project
	clock   *clock.Fake
}

func newCoreEnv(t *testing.T) *coreEnv {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	core := New(Options{
		Config:      config.Default(),
		Embedder:    &stubEmbedder{available: true},
		Clock:       clk,
		Broadcaster: broadcast.New(16, nil),
	})
	t.Cleanup(func() { core.Close() })

	cat, err := catalog.Open(":memory:", testDim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return &coreEnv{
		core:    core,
		project: core.newProject(t.TempDir(), cat),
		clock:   clk,
	}
}

func TestLogActivityAssignsSessionImplicitly(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	act, err := env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPreToolUse, ToolName: "Read", Success: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, act.SessionID)

	first, err := env.project.sessions.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, first.ID, act.SessionID)

	// A stop event records under the session and then closes it.
	stop, err := env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventStop, Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, stop.SessionID)

	cur, err := env.project.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	// The next event starts a new session.
	next, err := env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPreToolUse, ToolName: "Edit", Success: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.SessionID)
}

func TestLogActivityRedactsSecrets(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	act, err := env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPreToolUse,
		ToolName:  "HttpGet",
		ToolInput: `{"url":"https://x","headers":{"Authorization":"Bearer abc123","X-Api-Key":"sk-xyz"}}`,
		Success:   true,
	})
	require.NoError(t, err)

	stored, err := env.project.GetActivities(ctx, store.ActivityFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, act.ID, stored[0].ID)

	assert.Contains(t, stored[0].ToolInput, `"Authorization":"[REDACTED]"`)
	assert.Contains(t, stored[0].ToolInput, `"X-Api-Key":"[REDACTED]"`)
	assert.NotContains(t, stored[0].ToolInput, "abc123")
	assert.NotContains(t, stored[0].ToolInput, "sk-xyz")
	assert.Contains(t, stored[0].ToolInput, `"url":"https://x"`)
}

func TestLogActivityDerivesSummariesAndProjections(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	act, err := env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPostToolUse,
		ToolName:  "Bash",
		ToolInput: `{"command":"go test ./..."}`,
		Success:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Ran go", act.Summary)
	assert.Equal(t, "go", act.CommandName)
	assert.Equal(t, types.ScopeUniversal, act.CommandScope)
	words := len(strings.Fields(act.SummaryDetail))
	assert.GreaterOrEqual(t, words, 12)
	assert.LessOrEqual(t, words, 20)
}

func TestRecallRecordsAccess(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	mem, err := env.project.Remember(ctx, store.CreateMemoryParams{Content: "remembered fact"})
	require.NoError(t, err)

	res, err := env.project.Recall(ctx, "remembered", search.Options{Mode: search.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	got, err := env.project.Store().GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessed)
}

func TestTimelineInterleavesNewestFirst(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	_, err := env.project.Remember(ctx, store.CreateMemoryParams{Content: "early memory"})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	_, err = env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPostToolUse, ToolName: "Read", Success: true,
	})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	_, err = env.project.Remember(ctx, store.CreateMemoryParams{Content: "late memory"})
	require.NoError(t, err)

	events, err := env.project.Timeline(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "memory", events[0].Kind)
	assert.Equal(t, "late memory", events[0].Memory.Content)
	assert.Equal(t, "activity", events[1].Kind)
	assert.Equal(t, "memory", events[2].Kind)

	// A narrow window hides the older entries.
	recent, err := env.project.Timeline(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestSaveUserMessage(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	_, err := env.project.SaveUserMessage(ctx, "   ")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	msg, err := env.project.SaveUserMessage(ctx, "please fix the failing test?")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.SessionID)
	assert.Equal(t, 5, msg.WordCount)
	assert.True(t, msg.HasQuestions)
	assert.Contains(t, msg.ToneIndicators, types.TonePolite)
}

func TestGetSessionContext(t *testing.T) {
	env := newCoreEnv(t)
	ctx := context.Background()

	a, err := env.project.Remember(ctx, store.CreateMemoryParams{Content: "hub note"})
	require.NoError(t, err)
	b, err := env.project.Remember(ctx, store.CreateMemoryParams{Content: "spoke note", RelatedIDs: []string{a.ID}})
	require.NoError(t, err)
	c, err := env.project.Remember(ctx, store.CreateMemoryParams{Content: "far note", RelatedIDs: []string{b.ID}})
	require.NoError(t, err)

	_, err = env.project.LogActivity(ctx, LogActivityParams{
		EventType: types.EventPostToolUse, ToolName: "Read", Success: true,
	})
	require.NoError(t, err)

	sc, err := env.project.GetSessionContext(ctx)
	require.NoError(t, err)
	require.NotNil(t, sc.CurrentSession)
	require.Len(t, sc.RecentActivities, 1)
	require.Len(t, sc.RecentMemories, 3)

	byID := make(map[string]ContextMemory)
	for _, cm := range sc.RecentMemories {
		byID[cm.Memory.ID] = cm
	}
	assert.Len(t, byID[a.ID].Links, 1)
	assert.True(t, byID[a.ID].MoreLinks, "neighbor b links on to c")
	assert.Len(t, byID[b.ID].Links, 2)
	assert.False(t, byID[b.ID].MoreLinks, "both hops from b lead only back to b")
	assert.True(t, byID[c.ID].MoreLinks, "neighbor b links on to a")
}

func TestExportFormatValidation(t *testing.T) {
	env := newCoreEnv(t)

	err := env.project.Export(context.Background(), "xml", &strings.Builder{})
	assert.True(t, errors.Is(err, types.ErrInvalid))
}
