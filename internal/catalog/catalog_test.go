package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"omnicortex/internal/types"
)

func TestOpenFreshCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.db")

	c, err := Open(path, 384, nil)
	require.NoError(t, err)
	defer c.Close()

	var version, dim int
	err = c.DB().QueryRow(`SELECT schema_version, embedding_dim FROM meta WHERE id = 1`).Scan(&version, &dim)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
	require.Equal(t, 384, dim)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.db")

	c, err := Open(path, 384, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path, 384, nil)
	require.NoError(t, err)
	defer c.Close()

	var version int
	require.NoError(t, c.DB().QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version))
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestSchemaNewerRefusesToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.db")

	c, err := Open(path, 384, nil)
	require.NoError(t, err)
	_, err = c.DB().Exec(`UPDATE meta SET schema_version = ?`, CurrentSchemaVersion+10)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(path, 384, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrSchemaNewer))
}

func TestEmbeddingDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.db")

	c, err := Open(path, 384, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(path, 768, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrEmbeddingMismatch))
}

func TestInMemoryCatalog(t *testing.T) {
	c, err := Open(":memory:", 8, nil)
	require.NoError(t, err)
	defer c.Close()

	// All tables present after migration.
	for _, table := range []string{"memories", "memory_tags", "memory_links", "memory_vectors", "sessions", "activities", "user_messages"} {
		var count int
		err := c.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "missing table %s", table)
	}
}

func TestSingleOpenSessionEnforced(t *testing.T) {
	c, err := Open(":memory:", 8, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DB().Exec(`INSERT INTO sessions (id, project_path, started_at) VALUES ('s1', '/p', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = c.DB().Exec(`INSERT INTO sessions (id, project_path, started_at) VALUES ('s2', '/p', '2026-01-01T00:01:00Z')`)
	require.Error(t, err, "second open session must violate the partial unique index")
}
