// Package client implements HttpClient (pushiko design §4.7): the public
// entry point that wraps a pool.Pool of transport.PoolableChannel with
// request dispatch, a bounded retry budget, and health/metrics surfaces.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/internal/xlog"
	"github.com/bloomberg/pushiko-sub000/peer"
	"github.com/bloomberg/pushiko-sub000/pool"
	"github.com/bloomberg/pushiko-sub000/retryafter"
	"github.com/bloomberg/pushiko-sub000/transport"
)

// Request is the public request shape; it is a thin rename of
// transport.Request so callers of this package never need to import
// transport directly.
type Request = transport.Request

// Response is the public response shape.
type Response = transport.Response

// Config bundles everything Client needs beyond the peer preset: pool
// sizing/admission knobs (pool.Config) and connection properties
// (transport.Properties). MaxRequestRetries, if zero, defaults to
// 3 * pool.Config.MaximumSize per spec §4.7.
type Config struct {
	Pool       pool.Config
	Properties transport.Properties
	TLS        *tls.Config

	MaxRequestRetries int
	RetryPolicy       RetryPolicy
}

// Client is HttpClient.
type Client struct {
	cfg    Config
	peer   peer.Preset
	pool   *pool.Pool[*transport.PoolableChannel]
	log    xlog.Logger
	policy RetryPolicy
	maxRetries int
}

// New builds a Client for the given peer, dialing through the factory
// defined by cfg.Properties/cfg.TLS. It does not connect eagerly — call
// Prepare to pre-fill the pool (pushiko design §4.7, "prepare()").
func New(ctx context.Context, p peer.Preset, cfg Config) (*Client, error) {
	props := cfg.Properties
	props.WantsALPN = p.WantsALPN
	props.MaximumConnectionAge = p.MaximumConnectionAge
	props.MonitorConnectionHealth = p.MonitorConnectionHealth
	if props.DefaultMaxConcurrentStreams == 0 {
		props.DefaultMaxConcurrentStreams = p.HighWatermark
	}
	if p.HighWatermark > 0 && props.HighWatermarkFactor == 0 {
		props.HighWatermarkFactor = 1
		if p.LowWatermark > 0 {
			props.LowWatermarkFactor = float64(p.LowWatermark) / float64(p.HighWatermark)
		}
	}

	factory := transport.NewFactory(p.Address, p.Address, props, cfg.TLS)
	recycler := transport.NewRecycler()

	pl, err := pool.New[*transport.PoolableChannel](ctx, cfg.Pool, factory, recycler)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	policy := cfg.RetryPolicy
	if policy == nil {
		policy = DefaultRetryPolicy{}
	}
	maxRetries := cfg.MaxRequestRetries
	if maxRetries <= 0 {
		maxRetries = 3 * cfg.Pool.MaximumSize
	}

	return &Client{
		cfg:        cfg,
		peer:       p,
		pool:       pl,
		log:        xlog.For("client"),
		policy:     policy,
		maxRetries: maxRetries,
	}, nil
}

// Prepare pre-fills the pool to Config.Pool.MinimumSize.
func (c *Client) Prepare(ctx context.Context) error {
	_, err := c.pool.Prepare(ctx)
	return err
}

// Send acquires a channel permit, writes req, and awaits the response,
// retrying transport-level transient errors up to maxRetries times
// (pushiko design §4.7, "send(request)"). A 502/503 response is retried per
// peer.Preset's back-off (spec §6.3, FCM), independent of the transport
// RetryPolicy since it is a successfully-delivered response, not a
// transport-level failure.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	backoff := c.peer.RetryInitialBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := pool.WithPermit(c.pool, ctx, c.cfg.Properties.ConnectionAcquisitionTimeout,
			func(ctx context.Context, ch *transport.PoolableChannel) (Response, error) {
				return c.sendOnce(ctx, ch, req)
			})
		if err == nil {
			if delay, retry := c.serverErrorDelay(resp, backoff); retry {
				c.log.Warn(c.peer.Name, "retrying %d response after attempt %d, delay=%s", resp.StatusCode, attempt+1, delay)
				if waitErr := sleepCtx(ctx, delay); waitErr != nil {
					return Response{}, waitErr
				}
				if c.peer.RetryBackoffMultiplier > 0 {
					backoff = time.Duration(float64(backoff) * c.peer.RetryBackoffMultiplier)
				}
				continue
			}
			return resp, nil
		}
		lastErr = err
		if c.pool.IsClosed() {
			// The pool tears channels down on Close with
			// ErrStreamClosedBeforeReply/ErrPoolClosed, the same sentinels
			// an ordinary in-service channel failure or a saturated pool
			// produces; once Close has actually been called, report the
			// cause callers can act on instead (pushiko design §4.7,
			// "ClientClosed").
			return Response{}, errs.ErrClientClosed
		}
		if !c.policy.CanRetry(err) {
			return Response{}, err
		}
		c.log.Warn(c.peer.Name, "retrying request after attempt %d: %v", attempt+1, err)
	}
	return Response{}, fmt.Errorf("client: exhausted %d retries: %w", c.maxRetries, lastErr)
}

// serverErrorDelay reports whether resp is a 502/503 this peer's preset
// wants retried, and the delay to wait first (spec §6.3: "a 503 honors
// retry-after if present"; "502 defaults to 30s if no Retry-After").
func (c *Client) serverErrorDelay(resp Response, backoff time.Duration) (time.Duration, bool) {
	if resp.StatusCode != http.StatusBadGateway && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	if c.peer.RetryInitialBackoff <= 0 {
		return 0, false
	}
	if d, ok := retryafter.Parse(resp.Header.Get("Retry-After"), time.Now()); ok {
		return d, true
	}
	if resp.StatusCode == http.StatusBadGateway && c.peer.Retry502DefaultDelay > 0 {
		return c.peer.Retry502DefaultDelay, true
	}
	return backoff, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sendOnce(ctx context.Context, ch *transport.PoolableChannel, req Request) (Response, error) {
	cont, err := ch.Handler().Write(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return cont.Wait(ctx)
}

// Close closes the underlying pool. Idempotent.
func (c *Client) Close() error {
	return c.pool.Close()
}

// HealthStatus is the outcome of a connectivity health check (pushiko
// design §4.7, "Health component").
type HealthStatus int

const (
	HealthUp HealthStatus = iota
	HealthDown
)

func (s HealthStatus) String() string {
	if s == HealthUp {
		return "UP"
	}
	return "DOWN"
}

// Health runs a test_acquisition-based check: DOWN if the pool is closed or
// yields no live entry within timeout; UP otherwise. TestAcquisition does
// not look at permits, so a pool whose live entries are all saturated
// reports UP.
func (c *Client) Health(ctx context.Context, timeout time.Duration) HealthStatus {
	_, err := c.pool.TestAcquisition(ctx, timeout)
	if err != nil {
		return HealthDown
	}
	return HealthUp
}

// ConnectionCount is the metrics component's connection_count: the number
// of live poolables (pushiko design §4.7 / §9).
func (c *Client) ConnectionCount(ctx context.Context) int {
	return c.pool.Size(ctx)
}

// Snapshot exposes the pool's summary for internal/xmetrics to poll.
func (c *Client) Snapshot(ctx context.Context) pool.Summary {
	return c.pool.Snapshot(ctx)
}
