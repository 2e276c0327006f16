package poolable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/poolable"
)

func TestAcquireReleaseAccounting(t *testing.T) {
	p := poolable.New("conn", 2, 5, func() bool { return true })
	require.True(t, p.IsShouldAcquire())
	require.True(t, p.IsCanAcquire())

	for i := 0; i < 5; i++ {
		p.Acquire()
	}
	require.Equal(t, 5, p.AllocatedPermits())
	require.False(t, p.IsCanAcquire())
	require.False(t, p.IsShouldAcquire())

	for i := 0; i < 5; i++ {
		p.Release()
	}
	require.Equal(t, 0, p.AllocatedPermits())
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	p := poolable.New(1, 1, 1, nil)
	p.Release()
	require.Equal(t, 0, p.AllocatedPermits())
}

func TestIsAliveDefaultsTrue(t *testing.T) {
	p := poolable.New(1, 0, 1, nil)
	require.True(t, p.IsAlive())
}
