package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T, path, accountID string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(path, accountID)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})
	return b
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b := openTestBackend(t, ":memory:", "acct-1")
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []byte(`{"version":1}`)))

	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":1}`), blob)
}

func TestSQLiteBackendLoadAbsent(t *testing.T) {
	b := openTestBackend(t, ":memory:", "acct-1")

	blob, err := b.Load(context.Background())

	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSQLiteBackendOverwrite(t *testing.T) {
	b := openTestBackend(t, ":memory:", "acct-1")
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []byte("first")))
	require.NoError(t, b.Save(ctx, []byte("second")))

	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), blob)
}

func TestSQLiteBackendScopesByAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcelwatch.db")
	ctx := context.Background()

	first := openTestBackend(t, path, "acct-a")
	second := openTestBackend(t, path, "acct-b")

	require.NoError(t, first.Save(ctx, []byte("blob-a")))
	require.NoError(t, second.Save(ctx, []byte("blob-b")))

	blobA, err := first.Load(ctx)
	require.NoError(t, err)
	blobB, err := second.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, []byte("blob-a"), blobA)
	assert.Equal(t, []byte("blob-b"), blobB)
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcelwatch.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path, "acct-1")
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, []byte("kept")))
	require.NoError(t, b.Close())

	reopened := openTestBackend(t, path, "acct-1")
	blob, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), blob)
}

func TestSQLiteBackendMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcelwatch.db")

	b, err := NewSQLiteBackend(path, "acct-1")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened := openTestBackend(t, path, "acct-1")

	var rows int
	require.NoError(t, reopened.db.Get(&rows, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, 1, rows)
}
