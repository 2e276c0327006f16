package pool

import "context"

// waiter is one pending acquisition: a suspended attempt parked in the
// pool's FIFO awaiting availability. Resolving it with a nil error means
// "conditions may have changed, retry the selection loop from attempt 1";
// a non-nil error (PendingAcquisitionLimit, PoolClosed) is terminal.
type waiter struct {
	ctx context.Context
	ch  chan error
}

func newWaiter(ctx context.Context) *waiter {
	return &waiter{ctx: ctx, ch: make(chan error, 1)}
}

func (w *waiter) cancelled() bool {
	return w.ctx.Err() != nil
}

// resolve delivers err to the waiter. Safe to call at most once; callers
// only ever reach a given waiter through one code path (resumeWaiters and
// the pending-limit eviction remove it from the pending deque before
// resolving it, and Pool.Close resolves the waiters still in the deque),
// so no further guard is needed.
func (w *waiter) resolve(err error) {
	w.ch <- err
}
