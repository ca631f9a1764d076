package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTokenRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.LoadToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveToken(ctx, "tok-1"))
	token, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	// Saving again overwrites, it does not duplicate.
	require.NoError(t, store.SaveToken(ctx, "tok-2"))
	token, err = store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, store.DeleteToken(ctx))
	_, err = store.LoadToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTokenIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.DeleteToken(ctx))
	require.NoError(t, store.SaveToken(ctx, "tok"))
	require.NoError(t, store.DeleteToken(ctx))
	require.NoError(t, store.DeleteToken(ctx))
}

func TestTokenSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(ctx, "persisted"))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	token, err := reopened.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", token)
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveToken(context.Background(), "tok"))
}
