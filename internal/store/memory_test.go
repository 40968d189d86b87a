package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicortex/internal/types"
)

func TestCreateMemoryDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mem, err := env.store.CreateMemory(ctx, CreateMemoryParams{
		Content: "  Use AES-GCM for envelope encryption  ",
		Tags:    []string{"crypto", "Crypto", " security ", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, "Use AES-GCM for envelope encryption", mem.Content)
	assert.Equal(t, types.TypeOther, mem.Type)
	assert.Equal(t, types.StatusFresh, mem.Status)
	assert.Equal(t, types.DefaultImportance, mem.ImportanceScore)
	assert.Equal(t, 0, mem.AccessCount)
	assert.Equal(t, []string{"crypto", "Crypto", "security"}, mem.Tags)
	assert.Nil(t, mem.LastAccessed)
	assert.Equal(t, mem.CreatedAt, mem.UpdatedAt)

	got, err := env.store.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.Content, got.Content)
	assert.ElementsMatch(t, mem.Tags, got.Tags)
}

func TestCreateMemoryValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "   "})
	assert.True(t, errors.Is(err, types.ErrInvalid))
	assert.Equal(t, "content", types.ErrorPath(err))

	_, err = env.store.CreateMemory(ctx, CreateMemoryParams{Content: "x", Importance: intPtr(101)})
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = env.store.CreateMemory(ctx, CreateMemoryParams{Content: "x", Importance: intPtr(-1)})
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = env.store.CreateMemory(ctx, CreateMemoryParams{Content: "x", Type: "bogus"})
	assert.True(t, errors.Is(err, types.ErrInvalid))
}

func TestCreateMemoryMissingRelatedRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateMemory(ctx, CreateMemoryParams{
		Content:    "linked knowledge",
		RelatedIDs: []string{"mem-0-missing"},
	})
	require.True(t, errors.Is(err, types.ErrNotFound))

	// The whole write rolled back: no orphan row, tag, or index entry.
	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats["memories"])
	assert.Zero(t, stats["memory_tags"])
	assert.Zero(t, stats["memory_links"])
}

func TestCreateMemoryLinksRelated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "first"})
	require.NoError(t, err)

	b, err := env.store.CreateMemory(ctx, CreateMemoryParams{
		Content:    "second",
		RelatedIDs: []string{a.ID},
	})
	require.NoError(t, err)

	links, err := env.store.Links(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, types.Link{FromID: b.ID, ToID: a.ID, Kind: types.LinkRelatesTo}, links[0])
}

func TestUpdateMemoryPatchesOnlySuppliedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mem, err := env.store.CreateMemory(ctx, CreateMemoryParams{
		Content:    "original",
		Tags:       []string{"keep"},
		Importance: intPtr(70),
	})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	status := types.StatusNeedsReview
	updated, err := env.store.UpdateMemory(ctx, mem.ID, MemoryPatch{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, "original", updated.Content)
	assert.Equal(t, types.StatusNeedsReview, updated.Status)
	assert.Equal(t, 70, updated.ImportanceScore)
	assert.Equal(t, []string{"keep"}, updated.Tags)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
}

func TestUpdateMemoryEmptyPatchAdvancesUpdatedAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mem, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "stable"})
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	updated, err := env.store.UpdateMemory(ctx, mem.ID, MemoryPatch{})
	require.NoError(t, err)

	assert.Equal(t, mem.Content, updated.Content)
	assert.True(t, updated.UpdatedAt.After(mem.UpdatedAt))
}

func TestUpdateMemoryContentReembeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mem, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "first text"})
	require.NoError(t, err)

	var before []byte
	require.NoError(t, env.store.Catalog().DB().QueryRow(
		`SELECT embedding FROM memory_vectors WHERE memory_id = ?`, mem.ID).Scan(&before))

	content := "completely different words"
	_, err = env.store.UpdateMemory(ctx, mem.ID, MemoryPatch{Content: &content})
	require.NoError(t, err)

	var after []byte
	require.NoError(t, env.store.Catalog().DB().QueryRow(
		`SELECT embedding FROM memory_vectors WHERE memory_id = ?`, mem.ID).Scan(&after))
	assert.NotEqual(t, before, after)
}

func TestUpdateMemoryUnknownID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.UpdateMemory(context.Background(), "mem-0-missing", MemoryPatch{})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestForgetMemoryCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "target", Tags: []string{"x"}})
	require.NoError(t, err)
	b, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "neighbor", RelatedIDs: []string{a.ID}})
	require.NoError(t, err)

	removed, err := env.store.ForgetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = env.store.GetMemory(ctx, a.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// Nothing references the id anymore in any table.
	db := env.store.Catalog().DB()
	for _, q := range []string{
		`SELECT COUNT(*) FROM memory_tags WHERE memory_id = ?`,
		`SELECT COUNT(*) FROM memory_links WHERE from_id = ? OR to_id = ?`,
		`SELECT COUNT(*) FROM memory_vectors WHERE memory_id = ?`,
		`SELECT COUNT(*) FROM memories_fts WHERE id = ?`,
	} {
		var count int
		args := []interface{}{a.ID}
		if q == `SELECT COUNT(*) FROM memory_links WHERE from_id = ? OR to_id = ?` {
			args = append(args, a.ID)
		}
		require.NoError(t, db.QueryRow(q, args...).Scan(&count))
		assert.Zero(t, count, q)
	}

	// The neighbor survives untouched.
	_, err = env.store.GetMemory(ctx, b.ID)
	assert.NoError(t, err)
}

func TestForgetUnknownIDIsZeroNotError(t *testing.T) {
	env := newTestEnv(t)

	removed, err := env.store.ForgetMemory(context.Background(), "mem-0-missing")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestTouchMemoriesBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "a"})
	b, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "b"})

	env.clock.Advance(time.Hour)
	require.NoError(t, env.store.TouchMemories(ctx, []string{a.ID, b.ID}))

	for _, id := range []string{a.ID, b.ID} {
		mem, err := env.store.GetMemory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, mem.AccessCount)
		require.NotNil(t, mem.LastAccessed)
		assert.True(t, !mem.LastAccessed.Before(mem.CreatedAt), "last_accessed >= created_at")
	}
}

func TestListMemoriesSortAndPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, imp := range []int{10, 90, 50} {
		_, err := env.store.CreateMemory(ctx, CreateMemoryParams{
			Content:    []string{"low", "high", "mid"}[i],
			Importance: intPtr(imp),
		})
		require.NoError(t, err)
	}

	mems, err := env.store.ListMemories(ctx, ListOptions{SortBy: "importance_score", SortOrder: "desc"})
	require.NoError(t, err)
	require.Len(t, mems, 3)
	assert.Equal(t, "high", mems[0].Content)
	assert.Equal(t, "mid", mems[1].Content)
	assert.Equal(t, "low", mems[2].Content)

	// Offset slices are disjoint and contiguous.
	first, err := env.store.ListMemories(ctx, ListOptions{SortBy: "importance_score", Limit: 2})
	require.NoError(t, err)
	rest, err := env.store.ListMemories(ctx, ListOptions{SortBy: "importance_score", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, mems[0].ID, first[0].ID)
	assert.Equal(t, mems[2].ID, rest[0].ID)
}

func TestListMemoriesDefaultExcludesArchived(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	kept, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "kept"})
	gone, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "archived away"})

	archived := types.StatusArchived
	_, err := env.store.UpdateMemory(ctx, gone.ID, MemoryPatch{Status: &archived})
	require.NoError(t, err)

	mems, err := env.store.ListMemories(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, kept.ID, mems[0].ID)

	// Explicit status filter surfaces it again.
	mems, err = env.store.ListMemories(ctx, ListOptions{
		Filter: Filter{Statuses: []types.MemoryStatus{types.StatusArchived}},
	})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, gone.ID, mems[0].ID)
}

func TestLinkMemoriesDuplicateIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "a"})
	b, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "b"})

	linked, err := env.store.LinkMemories(ctx, a.ID, b.ID, types.LinkSupersedes)
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = env.store.LinkMemories(ctx, a.ID, b.ID, types.LinkSupersedes)
	require.NoError(t, err)
	assert.False(t, linked, "duplicate link is a no-op")

	links, err := env.store.Links(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	// Mutual links are legitimate.
	linked, err = env.store.LinkMemories(ctx, b.ID, a.ID, types.LinkRelatesTo)
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestLinkMemoriesValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "a"})

	_, err := env.store.LinkMemories(ctx, a.ID, a.ID, types.LinkRelatesTo)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = env.store.LinkMemories(ctx, a.ID, "mem-0-missing", types.LinkRelatesTo)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = env.store.LinkMemories(ctx, a.ID, a.ID, "bogus")
	assert.True(t, errors.Is(err, types.ErrInvalid))
}

func TestListTagsCountsAndOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "one", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = env.store.CreateMemory(ctx, CreateMemoryParams{Content: "two", Tags: []string{"b"}})
	require.NoError(t, err)
	_, err = env.store.CreateMemory(ctx, CreateMemoryParams{Content: "three", Tags: []string{"b", "c"}})
	require.NoError(t, err)

	tags, err := env.store.ListTags(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.TagCount{
		{Tag: "b", Count: 3},
		{Tag: "a", Count: 1},
		{Tag: "c", Count: 1},
	}, tags)
}

func TestNoVectorWhenEmbedderUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.available = false
	ctx := context.Background()

	mem, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "unembedded"})
	require.NoError(t, err, "writes succeed without an embedder")

	var count int
	require.NoError(t, env.store.Catalog().DB().QueryRow(
		`SELECT COUNT(*) FROM memory_vectors WHERE memory_id = ?`, mem.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestCanceledWriteLeavesCatalogUnchanged(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.store.CreateMemory(ctx, CreateMemoryParams{Content: "never lands"})
	require.True(t, errors.Is(err, types.ErrCanceled))

	stats, err := env.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats["memories"])
}

func TestCanceledReadIsCanceledNotIO(t *testing.T) {
	env := newTestEnv(t)

	mem, err := env.store.CreateMemory(context.Background(), CreateMemoryParams{Content: "readable"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = env.store.GetMemory(ctx, mem.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCanceled), "got %v", err)
	assert.False(t, errors.Is(err, types.ErrIO))

	_, err = env.store.ListMemories(ctx, ListOptions{})
	assert.True(t, errors.Is(err, types.ErrCanceled), "got %v", err)

	_, err = env.store.KeywordMatches(ctx, `"readable"*`, Filter{}, 10)
	assert.True(t, errors.Is(err, types.ErrCanceled), "got %v", err)

	_, err = env.store.GetActivities(ctx, ActivityFilter{}, 0, 0)
	assert.True(t, errors.Is(err, types.ErrCanceled), "got %v", err)

	_, err = env.store.CurrentSession(ctx)
	assert.True(t, errors.Is(err, types.ErrCanceled), "got %v", err)
}
