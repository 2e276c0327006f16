package pool_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/pool"
	"github.com/bloomberg/pushiko-sub000/poolable"
)

type fakeConn struct {
	id    int
	alive atomic.Bool
}

type fakeFactory struct {
	next      atomic.Int64
	low, high int
	failNext  atomic.Bool
}

func (f *fakeFactory) Make(ctx context.Context) (*poolable.Poolable[*fakeConn], error) {
	if f.failNext.Load() {
		f.failNext.Store(false)
		return nil, fmt.Errorf("boom")
	}
	id := int(f.next.Add(1))
	c := &fakeConn{id: id}
	c.alive.Store(true)
	p := poolable.New(c, f.low, f.high, func() bool { return c.alive.Load() })
	return p, nil
}

func (f *fakeFactory) Close() error { return nil }

type fakeRecycler struct{}

func (fakeRecycler) Recycle(p *poolable.Poolable[*fakeConn]) {
	p.Value.alive.Store(false)
}

func newTestPool(t *testing.T, cfg pool.Config, low, high int) (*pool.Pool[*poolable.Poolable[*fakeConn]], *fakeFactory) {
	t.Helper()
	f := &fakeFactory{low: low, high: high}
	p, err := pool.New[*poolable.Poolable[*fakeConn]](context.Background(), cfg, f, fakeRecycler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, f
}

func baseCfg() pool.Config {
	return pool.Config{
		Name:                         "test",
		AcquisitionAttemptsThreshold: 4,
		MaximumPendingAcquisitions:   8,
		MinimumSize:                  1,
		MaximumSize:                  4,
	}
}

func TestPermitAccountingExact(t *testing.T) {
	cfg := baseCfg()
	p, _ := newTestPool(t, cfg, 1, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.WithPermit(p, ctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
				time.Sleep(time.Millisecond)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	total, _ := scopeSum(p, ctx)
	require.Equal(t, 0, total)
}

// scopeSum inspects every live entry's AllocatedPermits by calling
// TestAcquisition repeatedly, which rotates through the pool — good enough for a single-threaded test
// assertion after all goroutines have joined.
func scopeSum(p *pool.Pool[*poolable.Poolable[*fakeConn]], ctx context.Context) (int, error) {
	size := p.Size(ctx)
	total := 0
	seen := map[int]bool{}
	for i := 0; i < size*3+1; i++ {
		e, err := p.TestAcquisition(ctx, 50*time.Millisecond)
		if err != nil {
			break
		}
		if seen[e.Value.id] {
			continue
		}
		seen[e.Value.id] = true
		total += e.AllocatedPermits()
	}
	return total, nil
}

func TestPendingAcquisitionFairness(t *testing.T) {
	cfg := baseCfg()
	cfg.MinimumSize = 1
	cfg.MaximumSize = 1
	cfg.MaximumPendingAcquisitions = 2
	p, _ := newTestPool(t, cfg, 1, 1)
	ctx := context.Background()

	_, err := p.Prepare(ctx)
	require.NoError(t, err)

	holdRelease := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_, _ = pool.WithPermit(p, ctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
			close(held)
			<-holdRelease
			return struct{}{}, nil
		})
	}()
	<-held

	errsCh := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			_, err := pool.WithPermit(p, ctx, 2*time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
				return struct{}{}, nil
			})
			errsCh <- err
		}(i)
		time.Sleep(20 * time.Millisecond)
	}

	// The oldest of the three waiters should be sacrificed with
	// ErrPendingAcquisitionLimit once the third arrives (capacity is 2).
	first := <-errsCh
	require.ErrorIs(t, first, errs.ErrPendingAcquisitionLimit)

	close(holdRelease)
	for i := 0; i < 2; i++ {
		<-errsCh
	}
}

func TestAcquisitionTimeout(t *testing.T) {
	cfg := baseCfg()
	cfg.MinimumSize = 1
	cfg.MaximumSize = 1
	p, _ := newTestPool(t, cfg, 1, 1)
	ctx := context.Background()
	_, err := p.Prepare(ctx)
	require.NoError(t, err)

	blockCh := make(chan struct{})
	go func() {
		_, _ = pool.WithPermit(p, ctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
			<-blockCh
			return struct{}{}, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	_, err = pool.WithPermit(p, ctx, 100*time.Millisecond, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, errs.ErrAcquisitionTimeout)
	close(blockCh)
}

func TestPoolClosedSurfacesAsClientClosed(t *testing.T) {
	cfg := baseCfg()
	p, _ := newTestPool(t, cfg, 1, 1)
	ctx := context.Background()
	_, err := p.Prepare(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = pool.WithPermit(p, ctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, errs.ErrClientClosed)
}

func TestPromptCancellation(t *testing.T) {
	cfg := baseCfg()
	cfg.MinimumSize = 1
	cfg.MaximumSize = 1
	p, _ := newTestPool(t, cfg, 1, 1)
	ctx := context.Background()
	_, err := p.Prepare(ctx)
	require.NoError(t, err)

	blockCh := make(chan struct{})
	go func() {
		_, _ = pool.WithPermit(p, ctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
			<-blockCh
			return struct{}{}, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	ran := false
	start := time.Now()
	_, err = pool.WithPermit(p, cctx, time.Second, func(ctx context.Context, e *poolable.Poolable[*fakeConn]) (struct{}, error) {
		ran = true
		return struct{}{}, nil
	})
	require.Error(t, err)
	require.False(t, ran)
	require.Less(t, time.Since(start), 200*time.Millisecond)
	close(blockCh)
}
