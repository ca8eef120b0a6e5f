package ring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyrostech/priorityexec/internal/arena"
)

func newTestArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.Install(make([]byte, 4096))
	require.NoError(t, err)
	return a
}

func TestFIFOOrder(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 4)
	require.NoError(t, err)

	for i := arena.Ref(1); i <= 3; i++ {
		status, err := q.Enqueue(i)
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
	}

	for i := arena.Ref(1); i <= 3; i++ {
		elem, status, err := q.Dequeue()
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		require.Equal(t, i, elem)
	}
}

func TestCapacityPlusOneFails(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := q.Enqueue(arena.Ref(i + 1))
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
	}

	status, err := q.Enqueue(99)
	require.NoError(t, err)
	require.Equal(t, StatusFull, status)
}

func TestPeekDoesNotMutate(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 2)
	require.NoError(t, err)

	_, _ = q.Enqueue(42)

	v1, status, err := q.Peek()
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, arena.Ref(42), v1)
	require.Equal(t, 1, q.Len())

	v2, status, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, v1, v2)
	require.Equal(t, 0, q.Len())
}

func TestDequeueEmpty(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 2)
	require.NoError(t, err)

	_, status, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, StatusEmpty, status)
}

// TestWraparound exercises the modular index arithmetic across many
// enqueue/dequeue cycles so the write cursor wraps several times.
func TestWraparound(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 3)
	require.NoError(t, err)

	next := arena.Ref(1)
	for cycle := 0; cycle < 10; cycle++ {
		for i := 0; i < 2; i++ {
			status, err := q.Enqueue(next)
			require.NoError(t, err)
			require.Equal(t, StatusOK, status)
			next++
		}
		for i := 0; i < 2; i++ {
			_, status, err := q.Dequeue()
			require.NoError(t, err)
			require.Equal(t, StatusOK, status)
		}
	}
}

func TestDestroyReturnsMemoryToArena(t *testing.T) {
	t.Parallel()
	a := newTestArena(t)
	q, err := New(a, 8)
	require.NoError(t, err)
	require.NoError(t, q.Destroy())
	require.True(t, a.Unified())
}
