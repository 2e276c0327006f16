// Package scope implements SingleThreadScopeGroup (pushiko design §4.2): a
// single dedicated worker goroutine fronted by two supervisory job trees,
// main_job and work_job, plus with_main_context/with_work_context
// primitives that hop work onto that goroutine and back.
//
// Confining all pool-state mutation to one goroutine is what lets
// pool.CommonMuxPool stay lock-free: ring-buffer mutations, pending-creation
// counters and the pending-acquisition deque are only ever touched from
// inside a task submitted through this package.
package scope

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bloomberg/pushiko-sub000/errs"
)

// Group owns one worker goroutine and the two job trees layered on top of
// it. main_job is long-lived (it must keep running while work_job is being
// torn down); work_job is main_job's child and is what per-request work
// runs under, so cancelling it alone stops accepting new requests without
// tearing down pool lifecycle tasks.
//
// The errgroup.Group pair plays the same supervisory role
// thushan-olla/internal/adapter/discovery/service.go gives a single
// errgroup.Group: a parent whose Wait() gates teardown, here split into two
// so the child can be cancelled independently.
type Group struct {
	mainCtx    context.Context
	mainCancel context.CancelCauseFunc
	mainGroup  *errgroup.Group

	workCtx    context.Context
	workCancel context.CancelCauseFunc
	workGroup  *errgroup.Group

	tasks    chan func()
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// New starts the worker goroutine and returns a ready Group.
func New(parent context.Context) *Group {
	mainCtx, mainCancel := context.WithCancelCause(parent)
	workCtx, workCancel := context.WithCancelCause(mainCtx)
	mg, mainCtx2 := errgroup.WithContext(mainCtx)
	wg, workCtx2 := errgroup.WithContext(workCtx)
	g := &Group{
		mainCtx:    mainCtx2,
		mainCancel: mainCancel,
		mainGroup:  mg,
		workCtx:    workCtx2,
		workCancel: workCancel,
		workGroup:  wg,
		tasks:      make(chan func(), 256),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *Group) run() {
	defer close(g.stopped)
	for {
		select {
		case fn := <-g.tasks:
			fn()
		case <-g.stop:
			// Drain whatever is already queued before exiting so that
			// callers blocked on with*Context get a response rather than
			// hanging forever.
			for {
				select {
				case fn := <-g.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (g *Group) submit(ctx context.Context, fn func()) error {
	// Checked up front, not just as a select case: once stopped is closed
	// the worker goroutine is gone, so a raw send into the (buffered)
	// tasks channel would silently succeed with nobody ever draining it,
	// hanging the caller instead of failing fast.
	select {
	case <-g.stopped:
		return errs.ErrPoolClosed
	default:
	}
	select {
	case g.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.stopped:
		return errs.ErrPoolClosed
	}
}

// EnsureActive fails fast with errs.ErrPoolClosed if the work tree has been
// cancelled. Callers (the pool's selection recursion in particular) call
// this at the top of every recursive attempt.
func (g *Group) EnsureActive() error {
	if g.workCtx.Err() != nil {
		return errs.ErrPoolClosed
	}
	return nil
}

// WorkContext returns the context blocks run under via WithWorkContext; it
// is cancelled by Close and carries errs.ErrPoolClosed as its cause.
func (g *Group) WorkContext() context.Context { return g.workCtx }

// MainContext returns the context blocks run under via WithMainContext.
func (g *Group) MainContext() context.Context { return g.mainCtx }

// WithMainContext runs block on the worker goroutine under main_job, and
// waits for either its completion or ctx's cancellation (which covers only
// the handoff/wait, not preemption of an already-running block — the block
// itself must observe ctx to cancel promptly once running).
func WithMainContext[T any](g *Group, ctx context.Context, block func(context.Context) (T, error)) (T, error) {
	return withContext(g, g.mainCtx, ctx, block)
}

// WithWorkContext is WithMainContext's work_job counterpart: used for
// per-request work that should not survive pool shutdown.
func WithWorkContext[T any](g *Group, ctx context.Context, block func(context.Context) (T, error)) (T, error) {
	return withContext(g, g.workCtx, ctx, block)
}

func withContext[T any](g *Group, jobCtx, callerCtx context.Context, block func(context.Context) (T, error)) (T, error) {
	var zero T
	type result struct {
		val T
		err error
	}
	resCh := make(chan result, 1)
	submitErr := g.submit(callerCtx, func() {
		v, err := block(jobCtx)
		resCh <- result{v, err}
	})
	if submitErr != nil {
		if submitErr == errs.ErrPoolClosed {
			return zero, errs.ErrPoolClosed
		}
		return zero, errs.ErrCancelled
	}
	select {
	case r := <-resCh:
		return r.val, r.err
	case <-callerCtx.Done():
		return zero, errs.ErrCancelled
	}
}

// Go runs fn in its own goroutine, tracked by work_job so that Close waits
// for it to finish (or observe work_job's cancellation) before tearing the
// pool down further. Unlike WithWorkContext, fn does NOT run on the single
// worker goroutine — it is for exactly the calls that must not block pool
// bookkeeping (factory.Make's TCP connect/TLS handshake, a recycler close).
// fn is expected to hop back via WithMainContext/WithWorkContext for any
// state mutation it needs to make.
func (g *Group) Go(fn func(context.Context)) {
	g.workGroup.Go(func() error {
		fn(g.workCtx)
		return nil
	})
}

// LaunchInMainScope is the fire-and-forget counterpart of WithMainContext.
func (g *Group) LaunchInMainScope(fn func(context.Context)) {
	g.mainGroup.Go(func() error {
		select {
		case <-g.stopped:
			return nil
		default:
		}
		select {
		case g.tasks <- func() { fn(g.mainCtx) }:
		case <-g.stopped:
		}
		return nil
	})
}

// LaunchInWorkScope is the fire-and-forget counterpart of WithWorkContext.
func (g *Group) LaunchInWorkScope(fn func(context.Context)) {
	g.workGroup.Go(func() error {
		select {
		case <-g.stopped:
			return nil
		default:
		}
		select {
		case g.tasks <- func() { fn(g.workCtx) }:
		case <-g.stopped:
		}
		return nil
	})
}

// Close cancels work_job with errs.ErrPoolClosed, runs finalize on the
// worker goroutine under main_job (so it observes the executor still
// alive), then cancels main_job and stops the worker goroutine. Close is
// idempotent.
func (g *Group) Close(finalize func(context.Context)) {
	g.stopOnce.Do(func() {
		g.workCancel(errs.ErrPoolClosed)
		_ = g.workGroup.Wait()
		if finalize != nil {
			_, _ = WithMainContext(g, context.Background(), func(ctx context.Context) (struct{}, error) {
				finalize(ctx)
				return struct{}{}, nil
			})
		}
		g.mainCancel(errs.ErrPoolClosed)
		_ = g.mainGroup.Wait()
		close(g.stop)
		<-g.stopped
	})
}
