package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/ringbuf"
)

func TestRoundTrip(t *testing.T) {
	f := ringbuf.New[int](5)
	for i := 1; i <= 5; i++ {
		f.AddLast(i)
	}
	require.Equal(t, 5, f.Size())
	for i := 1; i <= 5; i++ {
		require.Equal(t, i, f.RemoveFirst())
	}
	require.Equal(t, 0, f.Size())
}

func TestAddFirstRemoveLast(t *testing.T) {
	f := ringbuf.New[int](3)
	f.AddFirst(1)
	f.AddFirst(2)
	f.AddFirst(3)
	// buffer front-to-back is now 3,2,1
	require.Equal(t, 1, f.RemoveLast())
	require.Equal(t, 2, f.RemoveLast())
	require.Equal(t, 3, f.RemoveLast())
}

func TestRemoveUntilFirstInclusiveOrNil(t *testing.T) {
	f := ringbuf.New[int](5)
	for _, v := range []int{1, 2, 3, 4, 5} {
		f.AddLast(v)
	}
	got, ok := f.RemoveUntilFirstInclusiveOrNil(func(v int) bool { return v == 3 })
	require.True(t, ok)
	require.Equal(t, 3, got)
	require.Equal(t, 2, f.Size())
	require.Equal(t, 4, f.RemoveFirst())
	require.Equal(t, 5, f.RemoveFirst())
}

func TestRemoveUntilFirstInclusiveOrNilNotFound(t *testing.T) {
	f := ringbuf.New[int](3)
	f.AddLast(1)
	f.AddLast(2)
	_, ok := f.RemoveUntilFirstInclusiveOrNil(func(v int) bool { return v == 99 })
	require.False(t, ok)
	require.Equal(t, 0, f.Size())
}

func TestRemoveAllPreservesOrderExactlyOnce(t *testing.T) {
	f := ringbuf.New[int](6)
	for _, v := range []int{1, 2, 3, 4, 5, 6} {
		f.AddLast(v)
	}
	tested := 0
	removed := f.RemoveAll(func(v int) bool {
		tested++
		return v%2 == 0
	})
	require.Equal(t, 6, tested)
	require.Equal(t, []int{2, 4, 6}, removed)
	require.Equal(t, []int{1, 3, 5}, f.ToSlice())
}

func TestWrapsAroundRing(t *testing.T) {
	f := ringbuf.New[int](3)
	f.AddLast(1)
	f.AddLast(2)
	f.RemoveFirst()
	f.AddLast(3)
	f.AddLast(4)
	require.Equal(t, []int{2, 3, 4}, f.ToSlice())
}
