package sqlitevec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{
		Path:      filepath.Join(t.TempDir(), "vectors.db"),
		Table:     "memories",
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndGet_RoundTripsVectorAndPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Insert(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, []map[string]any{{"data": "hello", "user_id": "u1"}})
	require.NoError(t, err)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, []float32{1, 0, 0}, got.Vector)
	assert.Equal(t, "hello", got.Payload["data"])
}

func TestInsert_RejectsWrongDimension(t *testing.T) {
	store := newTestStore(t)
	err := store.Insert(context.Background(), []string{"a"}, [][]float32{{1, 0}}, []map[string]any{{}})
	assert.ErrorIs(t, err, vectorstore.ErrDimension)
}

func TestGet_UnknownIDReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestUpdate_PreservesUnsetSideAndOverwritesSetSide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, []map[string]any{{"data": "v1"}}))

	require.NoError(t, store.Update(ctx, "a", nil, map[string]any{"data": "v2"}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Vector, "nil vector on Update leaves the existing vector untouched")
	assert.Equal(t, "v2", got.Payload["data"])
}

func TestDelete_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, []map[string]any{{}}))

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestList_FiltersByScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, []map[string]any{{"user_id": "u1"}}))
	require.NoError(t, store.Insert(ctx, []string{"b"}, [][]float32{{0, 1, 0}}, []map[string]any{{"user_id": "u2"}}))

	got, err := store.List(ctx, map[string]string{"user_id": "u1"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestSearch_RanksClosestVectorFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []string{"close", "far"},
		[][]float32{{1, 0, 0}, {0, 0, 1}},
		[]map[string]any{{}, {}},
	))

	hits, err := store.Search(ctx, []float32{0.9, 0.1, 0}, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "close", hits[0].ID)
}

func TestDimension_ReturnsConfiguredValue(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, 3, store.Dimension())
}
