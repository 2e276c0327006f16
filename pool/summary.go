package pool

import (
	"context"
	"time"

	"github.com/bloomberg/pushiko-sub000/scope"
)

// Summary is a structured snapshot of pool configuration and counts,
// emitted every Config.SummaryInterval (pushiko design §4.3, "Summary").
type Summary struct {
	Name                 string
	PoolSize             int
	PendingCreationCount int
	PendingAcquisitions  int
	MinimumSize          int
	MaximumSize          int
}

// startSummary is launched once (if SummaryInterval > 0) as a background
// goroutine tracked by work_job — it must not run ON the worker goroutine
// itself, since it never returns until Close; a task submitted via
// LaunchInMainScope blocks that goroutine's single-task-at-a-time loop for
// good (scope.Group.run's tasks channel only has one reader). Instead it
// only hops onto the worker goroutine per tick, via WithMainContext, to
// take a consistent snapshot.
func (p *Pool[P]) startSummary() {
	p.group.Go(func(gctx context.Context) {
		t := time.NewTicker(p.cfg.SummaryInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return
			case <-t.C:
				s, err := scope.WithMainContext(p.group, gctx, func(context.Context) (Summary, error) {
					return p.snapshot(), nil
				})
				if err != nil {
					return
				}
				p.log.Info(p.cfg.Name, "summary: size=%d pending_creation=%d pending_acquisitions=%d min=%d max=%d",
					s.PoolSize, s.PendingCreationCount, s.PendingAcquisitions, s.MinimumSize, s.MaximumSize)
			}
		}
	})
}

func (p *Pool[P]) snapshot() Summary {
	return Summary{
		Name:                 p.cfg.Name,
		PoolSize:             p.entries.Size(),
		PendingCreationCount: p.pendingCreationCount,
		PendingAcquisitions:  p.pending.Size(),
		MinimumSize:          p.cfg.MinimumSize,
		MaximumSize:          p.cfg.MaximumSize,
	}
}

// Snapshot returns a Summary taken on the worker goroutine. Exposed for
// internal/xmetrics to poll without racing pool-thread state.
func (p *Pool[P]) Snapshot(ctx context.Context) Summary {
	s, _ := scope.WithMainContext(p.group, ctx, func(_ context.Context) (Summary, error) {
		return p.snapshot(), nil
	})
	return s
}
