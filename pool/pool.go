package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/internal/xlog"
	"github.com/bloomberg/pushiko-sub000/ringbuf"
	"github.com/bloomberg/pushiko-sub000/scope"
)

// Entry is what a pooled value must expose for the selection algorithm.
// *poolable.Poolable[R] and *transport.PoolableChannel both satisfy it.
type Entry interface {
	IsAlive() bool
	IsCanAcquire() bool
	IsShouldAcquire() bool
	MaximumPermits() int
	AllocatedPermits() int
	Acquire()
	Release()
}

// Factory creates and disposes of pool entries (pushiko design's
// Factory<P>/Recycler<R> pair, §3).
type Factory[P Entry] interface {
	Make(ctx context.Context) (P, error)
	Close() error
}

// Recycler destroys an entry that the pool no longer wants (reaped, or
// retired on close).
type Recycler[P Entry] interface {
	Recycle(p P)
}

// Pool is CommonMuxPool: a non-blocking, single-goroutine-orchestrated pool
// of Entry values.
type Pool[P Entry] struct {
	cfg      Config
	factory  Factory[P]
	recycler Recycler[P]
	group    *scope.Group
	log      xlog.Logger

	// Confined to the worker goroutine via scope.WithMainContext /
	// scope.WithWorkContext — never touched from any other goroutine.
	entries              *ringbuf.FifoBuffer[P]
	pending              *ringbuf.FifoBuffer[*waiter]
	pendingCreationCount int

	reaperTimer *time.Timer
	closed      atomic.Bool
}

// New constructs a Pool. The pool does not start creating connections until
// Prepare or the first WithPermit call.
func New[P Entry](ctx context.Context, cfg Config, factory Factory[P], recycler Recycler[P]) (*Pool[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool[P]{
		cfg:      cfg,
		factory:  factory,
		recycler: recycler,
		group:    scope.New(ctx),
		log:      xlog.For("pool"),
		entries:  ringbuf.New[P](cfg.MaximumSize),
		pending:  ringbuf.New[*waiter](cfg.MaximumPendingAcquisitions),
	}
	if cfg.SummaryInterval > 0 {
		p.startSummary()
	}
	return p, nil
}

// Prepare ensures the pool has at least MinimumSize entries, and returns
// the number of creations it started. It never fails unless the pool is
// closed.
func (p *Pool[P]) Prepare(ctx context.Context) (int, error) {
	return scope.WithMainContext(p.group, ctx, func(wctx context.Context) (int, error) {
		if err := p.group.EnsureActive(); err != nil {
			// Prepare tolerates a pool whose work tree is already gone;
			// it simply has nothing to do.
			return 0, nil
		}
		return p.attemptFill(wctx), nil
	})
}

// attemptOutcome is returned by one pass of the selection algorithm run on
// the worker goroutine.
type attemptOutcome[P Entry] struct {
	granted  bool
	entry    P
	waitFor  *waiter
	attempts int
	err      error
}

// WithPermit acquires one permit on an entry, runs block(resource) outside
// the pool's worker goroutine, and releases the permit on every exit path.
func WithPermit[P Entry, T any](p *Pool[P], ctx context.Context, acquisitionTimeout time.Duration, block func(context.Context, P) (T, error)) (T, error) {
	var zero T
	acqCtx := ctx
	var cancel context.CancelFunc
	if acquisitionTimeout > 0 {
		acqCtx, cancel = context.WithTimeout(ctx, acquisitionTimeout)
		defer cancel()
	}
	entry, err := p.acquire(acqCtx)
	if err != nil {
		return zero, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		p.release(entry)
	}
	defer release()
	// Cancellation of the caller's own ctx (distinct from the acquisition
	// timeout) must still release promptly even if block is mid-flight;
	// block itself is expected to observe ctx, same as every other
	// blocking call in this module.
	if ctx.Err() != nil {
		return zero, errs.ErrCancelled
	}
	return block(ctx, entry)
}

// acquire runs the recursive selection algorithm (pushiko design §4.3).
func (p *Pool[P]) acquire(acqCtx context.Context) (P, error) {
	var zero P
	attempts := 1
	for {
		outcome, err := scope.WithMainContext(p.group, acqCtx, func(wctx context.Context) (attemptOutcome[P], error) {
			return p.attemptOnce(wctx, attempts), nil
		})
		if err != nil {
			if errors.Is(err, errs.ErrPoolClosed) {
				return zero, errs.ErrClientClosed
			}
			return zero, mapContextErr(acqCtx, err)
		}
		if outcome.err != nil {
			return zero, outcome.err
		}
		if outcome.granted {
			return outcome.entry, nil
		}
		if outcome.waitFor != nil {
			if werr := p.waitOn(acqCtx, outcome.waitFor); werr != nil {
				return zero, werr
			}
			attempts = 1
			continue
		}
		attempts = outcome.attempts
	}
}

func mapContextErr(ctx context.Context, fallback error) error {
	if ctx.Err() != nil {
		return mapCtxErr(ctx.Err())
	}
	return fallback
}

func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrAcquisitionTimeout
	}
	return errs.ErrCancelled
}

func (p *Pool[P]) waitOn(ctx context.Context, w *waiter) error {
	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		p.group.LaunchInMainScope(func(_ context.Context) {
			p.pruneCancelledFront()
		})
		return mapCtxErr(ctx.Err())
	}
}

// attemptOnce implements one recursive step of the selection algorithm. It
// runs entirely on the worker goroutine.
func (p *Pool[P]) attemptOnce(wctx context.Context, attempts int) attemptOutcome[P] {
	var zero P
	if err := p.group.EnsureActive(); err != nil {
		return attemptOutcome[P]{err: errs.ErrPoolClosed}
	}
	if p.anticipatedSize() < p.cfg.MinimumSize {
		p.attemptFill(wctx)
	}

	candidate, found := p.removeUntilFirstAlive()
	if found {
		p.entries.AddLast(candidate)
		if p.admits(candidate, attempts) {
			candidate.Acquire()
			return attemptOutcome[P]{granted: true, entry: candidate}
		}
	}

	poolSize := p.entries.Size()
	if poolSize == 0 || attempts >= poolSize {
		w := p.awaitAvailability(wctx)
		return attemptOutcome[P]{waitFor: w}
	}
	return attemptOutcome[P]{attempts: attempts + 1}
}

// removeUntilFirstAlive drops dead entries from the front (recycling each
// one) until it finds a live one, which it returns without reinserting
// (the caller reinserts at the back for round-robin rotation).
func (p *Pool[P]) removeUntilFirstAlive() (P, bool) {
	var zero P
	for {
		e, ok := p.entries.RemoveFirstOrNil()
		if !ok {
			return zero, false
		}
		if e.IsAlive() {
			return e, true
		}
		p.destroy(e)
	}
}

func (p *Pool[P]) destroy(e P) {
	p.group.Go(func(_ context.Context) {
		p.recycler.Recycle(e)
	})
}

func (p *Pool[P]) anticipatedSize() int {
	return p.entries.Size() + p.pendingCreationCount
}

// admits implements the poolable predicate / tie-break rules (pushiko
// design §4.3).
func (p *Pool[P]) admits(candidate P, attempts int) bool {
	if candidate.IsShouldAcquire() {
		return true
	}
	floor := p.cfg.MinimumSize
	if p.entries.Size() > floor {
		floor = p.entries.Size()
	}
	if p.pendingCreationCount >= floor && candidate.IsCanAcquire() {
		return true
	}
	anticipated := p.anticipatedSize()
	if anticipated < p.cfg.MaximumSize {
		halfTried := (p.entries.Size() + 1) / 2
		threshold := halfTried
		if p.cfg.AcquisitionAttemptsThreshold < threshold {
			threshold = p.cfg.AcquisitionAttemptsThreshold
		}
		if attempts >= threshold {
			if p.pendingCreationCount < floor {
				p.startCreate(extraCreation)
				p.armReaper()
			}
			return true
		}
		return false
	}
	return candidate.IsCanAcquire()
}

// awaitAvailability enqueues a waiter for the caller to await off the
// worker goroutine (pushiko design §4.3, "await_availability").
func (p *Pool[P]) awaitAvailability(wctx context.Context) *waiter {
	p.pruneCancelledFront()
	if p.pending.Size() >= p.cfg.MaximumPendingAcquisitions {
		if victim, ok := p.pending.RemoveFirstOrNil(); ok {
			victim.resolve(errs.ErrPendingAcquisitionLimit)
		}
	}
	w := newWaiter(wctx)
	p.pending.AddLast(w)

	anticipated := p.anticipatedSize()
	if anticipated < p.cfg.MinimumSize {
		p.attemptFill(wctx)
	} else if p.cfg.MinimumSize == 0 && anticipated == 0 {
		p.startCreate(extraCreation)
		p.armReaper()
	}
	return w
}

func (p *Pool[P]) pruneCancelledFront() {
	for {
		w, ok := p.pending.PeekFirst()
		if !ok || !w.cancelled() {
			return
		}
		p.pending.RemoveFirst()
	}
}

// resumeWaiters wakes up to n pending (non-cancelled) waiters by resolving
// them with a nil error, which tells them to retry the selection loop.
func (p *Pool[P]) resumeWaiters(n int) {
	for i := 0; i < n; i++ {
		p.pruneCancelledFront()
		w, ok := p.pending.RemoveFirstOrNil()
		if !ok {
			return
		}
		w.resolve(nil)
	}
}

type creationKind int

const (
	fillCreation creationKind = iota
	extraCreation
)

// attemptFill starts enough concurrent creations to bring the anticipated
// pool size up to MinimumSize, and returns how many it started.
func (p *Pool[P]) attemptFill(wctx context.Context) int {
	defect := p.cfg.MinimumSize - p.anticipatedSize()
	for i := 0; i < defect; i++ {
		p.startCreate(fillCreation)
	}
	if defect > 0 {
		return defect
	}
	return 0
}

// startCreate increments pendingCreationCount synchronously (so every
// caller's anticipatedSize() calculation is immediately coherent, per the
// "undispatched start" requirement) and then runs factory.Make off the
// worker goroutine.
func (p *Pool[P]) startCreate(kind creationKind) {
	p.pendingCreationCount++
	p.group.Go(func(gctx context.Context) {
		entry, err := p.factory.Make(gctx)
		_, _ = scope.WithMainContext(p.group, context.Background(), func(wctx context.Context) (struct{}, error) {
			p.pendingCreationCount--
			if err != nil {
				p.log.Warn(p.cfg.Name, "connection creation failed: %v", err)
				return struct{}{}, nil
			}
			p.entries.AddFirst(entry)
			p.resumeWaiters(entry.MaximumPermits())
			return struct{}{}, nil
		})
	})
}

func (p *Pool[P]) armReaper() {
	if p.cfg.ReaperDelay <= 0 {
		return
	}
	if p.reaperTimer != nil {
		p.reaperTimer.Stop()
	}
	p.reaperTimer = time.AfterFunc(p.cfg.ReaperDelay, func() {
		p.group.Go(func(gctx context.Context) {
			_, _ = scope.WithMainContext(p.group, context.Background(), func(wctx context.Context) (struct{}, error) {
				p.reap()
				return struct{}{}, nil
			})
		})
	})
}

// reap prunes the pool to MinimumSize by repeatedly removing the youngest
// (last-inserted) entry and recycling it.
func (p *Pool[P]) reap() {
	for p.entries.Size() > p.cfg.MinimumSize {
		e := p.entries.RemoveLast()
		p.destroy(e)
	}
}

// release is the "on poolable release" step (pushiko design §4.3): runs on
// the worker goroutine, decrements the permit, and resumes waiters as
// appropriate.
func (p *Pool[P]) release(entry P) {
	p.group.LaunchInMainScope(func(_ context.Context) {
		entry.Release()
		if entry.IsCanAcquire() {
			p.resumeWaiters(1)
		}
	})
}

// TestAcquisition selects an entry without acquiring a permit on it; used
// for health checks.
func (p *Pool[P]) TestAcquisition(ctx context.Context, timeout time.Duration) (P, error) {
	var zero P
	tctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return scope.WithMainContext(p.group, tctx, func(wctx context.Context) (P, error) {
		if err := p.group.EnsureActive(); err != nil {
			return zero, errs.ErrClientClosed
		}
		candidate, found := p.removeUntilFirstAlive()
		if !found {
			return zero, errs.ErrAcquisitionTimeout
		}
		p.entries.AddLast(candidate)
		return candidate, nil
	})
}

// Size returns the number of live entries. Safe to call concurrently; it
// hops onto the worker goroutine like every other read of pool state.
func (p *Pool[P]) Size(ctx context.Context) int {
	n, _ := scope.WithMainContext(p.group, ctx, func(wctx context.Context) (int, error) {
		return p.entries.Size(), nil
	})
	return n
}

// IsClosed reports whether Close has been called. Safe to call from any
// goroutine; callers use it to tell a request that failed because its
// channel was torn down as part of shutdown apart from an ordinary,
// in-service channel failure (pushiko design §4.7, "ClientClosed").
func (p *Pool[P]) IsClosed() bool {
	return p.closed.Load()
}

// Close cancels pending waiters, drains outstanding work, and closes the
// factory.
func (p *Pool[P]) Close() error {
	p.closed.Store(true)
	var closeErr error
	p.group.Close(func(_ context.Context) {
		p.pending.Each(func(w *waiter) { w.resolve(errs.ErrPoolClosed) })
		for p.entries.Size() > 0 {
			p.recycler.Recycle(p.entries.RemoveFirst())
		}
		if p.reaperTimer != nil {
			p.reaperTimer.Stop()
		}
		closeErr = p.factory.Close()
	})
	return closeErr
}
