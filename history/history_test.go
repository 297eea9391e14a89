package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/memory"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(context.Background(), Config{Path: ":memory:", BatchSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l
}

func TestAdd_BatchesUntilFlush(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	require.NoError(t, l.Add(ctx, "m1", "", "hello", memory.EventAdd, "u1", "user", false))
	rows, err := l.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "Get flushes the queue before reading")
}

func TestAdd_DeleteIsImmediate(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, Config{Path: ":memory:", BatchSize: 50})
	require.NoError(t, err)
	defer l.Close(ctx)

	require.NoError(t, l.Add(ctx, "m1", "old", "", memory.EventDelete, "u1", "user", false))

	l.mu.Lock()
	queued := len(l.queue)
	l.mu.Unlock()
	assert.Zero(t, queued, "DELETE bypasses the batch queue")

	rows, err := l.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted)
}

func TestGet_OrderedByCreatedThenUpdated(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	require.NoError(t, l.Add(ctx, "m1", "", "v1", memory.EventAdd, "u1", "user", true))
	require.NoError(t, l.Add(ctx, "m1", "v1", "v2", memory.EventUpdate, "u1", "user", true))

	rows, err := l.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, memory.EventAdd, rows[0].Event)
	assert.Equal(t, memory.EventUpdate, rows[1].Event)
}

func TestReset_DropsRows(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	require.NoError(t, l.Add(ctx, "m1", "", "v1", memory.EventAdd, "u1", "user", true))
	require.NoError(t, l.Reset(ctx))

	rows, err := l.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
