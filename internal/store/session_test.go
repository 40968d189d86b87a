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

func TestCreateSessionOnlyOneOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)
	assert.True(t, first.Open())

	_, err = env.store.CreateSession(ctx, "/test/project")
	assert.True(t, errors.Is(err, types.ErrConflict), "second open session refused")

	// Ending the first frees the slot.
	env.clock.Advance(time.Minute)
	_, err = env.store.EndSession(ctx, first.ID, "done")
	require.NoError(t, err)

	second, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cur, err := env.store.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur, "no open session yet")

	sess, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)

	cur, err = env.store.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, sess.ID, cur.ID)

	_, err = env.store.EndSession(ctx, sess.ID, "")
	require.NoError(t, err)

	cur, err = env.store.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestEndSessionSetsSummaryAndTimes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)

	env.clock.Advance(45 * time.Minute)
	ended, err := env.store.EndSession(ctx, sess.ID, "Edited config, ran tests")
	require.NoError(t, err)

	assert.False(t, ended.Open())
	assert.Equal(t, "Edited config, ran tests", ended.Summary)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, 45*time.Minute, ended.EndedAt.Sub(ended.StartedAt))
}

func TestEndSessionTwiceIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)
	_, err = env.store.EndSession(ctx, sess.ID, "")
	require.NoError(t, err)

	_, err = env.store.EndSession(ctx, sess.ID, "again")
	assert.True(t, errors.Is(err, types.ErrConflict))

	_, err = env.store.EndSession(ctx, "ses-0-missing", "")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSessionActivityCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.store.CreateSession(ctx, "/test/project")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.store.InsertActivity(ctx, &types.Activity{
			SessionID: sess.ID,
			EventType: types.EventPostToolUse,
			ToolName:  "Read",
			Success:   true,
		})
		require.NoError(t, err)
	}

	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ActivityCount)
}
