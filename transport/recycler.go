package transport

import "github.com/bloomberg/pushiko-sub000/internal/xlog"

// Recycler closes a PoolableChannel's underlying connection handler when the
// pool retires it (reaped, dead, or torn down on Close).
type Recycler struct {
	log xlog.Logger
}

// NewRecycler builds a Recycler.
func NewRecycler() Recycler { return Recycler{log: xlog.For("transport")} }

func (r Recycler) Recycle(c *PoolableChannel) {
	if err := c.Handler().Close(); err != nil {
		r.log.Warn("transport", "error closing channel: %v", err)
	}
}
