package transport

import "github.com/bloomberg/pushiko-sub000/poolable"

// PoolableChannel is pushiko design's PoolableChannel (§3): a
// ConnectionHandler plus the watermark-bounded permit accounting pool.Entry
// requires. Watermarks are derived from the peer's advertised
// MAX_CONCURRENT_STREAMS once known (the low watermark leaves headroom so
// the pool prefers a channel below it well before the channel is fully
// saturated, mirroring poolable.Poolable's general low/high split).
type PoolableChannel struct {
	*poolable.Poolable[*ConnectionHandler]
}

func newPoolableChannel(handler *ConnectionHandler, defaultMax int, lowFactor, highFactor float64) *PoolableChannel {
	base := defaultMax
	if observed := handler.MaxConcurrentStreams(); observed > 0 {
		base = observed
	}
	if base <= 0 {
		base = 1
	}
	if highFactor <= 0 {
		highFactor = 1
	}
	if lowFactor <= 0 {
		lowFactor = 1.0 / 3.0
	}
	high := int(float64(base) * highFactor)
	if high <= 0 {
		high = 1
	}
	low := int(float64(base) * lowFactor)
	if low <= 0 {
		low = 1
	}
	if low > high {
		low = high
	}
	p := poolable.New(handler, low, high, handler.IsActive)
	return &PoolableChannel{Poolable: p}
}

// Handler returns the underlying ConnectionHandler for use by client.Client.
func (c *PoolableChannel) Handler() *ConnectionHandler { return c.Value }
