package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/bloomberg/pushiko-sub000/errs"
	"github.com/bloomberg/pushiko-sub000/internal/xlog"
)

// Factory is ChannelFactory (pushiko design §4.6): it dials, optionally
// tunnels through an HTTPS proxy via CONNECT, performs the TLS handshake and
// the HTTP/2 client preface, and wraps the result in a PoolableChannel.
// Connect attempts back off using github.com/hashicorp/go-retryablehttp's
// Backoff helper — the same helper nabbar-golib/artifact/gitlab's client
// reaches for, here repurposed for connection attempts rather than request
// retries since this module's transport layer has no *http.Response to key
// off.
type Factory struct {
	dialAddress string
	authority   string
	props       Properties
	tlsConfig   *tls.Config
	log         xlog.Logger
	seq         int64
}

// NewFactory builds a Factory that dials dialAddress (host:port) presenting
// authority as the TLS server name and HTTP/2 :authority.
func NewFactory(dialAddress, authority string, props Properties, tlsConfig *tls.Config) *Factory {
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg.ServerName = serverNameOf(authority)
	cfg.InsecureSkipVerify = props.InsecureSkipVerify
	if props.WantsALPN {
		cfg.NextProtos = []string{"h2"}
	}
	return &Factory{
		dialAddress: dialAddress,
		authority:   authority,
		props:       props,
		tlsConfig:   cfg,
		log:         xlog.For("transport"),
	}
}

func serverNameOf(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

// Make implements pool.Factory: it retries the full dial+TLS+HTTP/2-preface
// sequence up to Properties.MaximumConnectRetries times with an exponential
// back-off (pushiko design §4.6, "on failure schedules the next attempt
// using the configured back-off").
func (f *Factory) Make(ctx context.Context) (*PoolableChannel, error) {
	var lastErr error
	attempts := 1
	if f.props.MaximumConnectRetries > 0 {
		attempts += f.props.MaximumConnectRetries
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryablehttp.DefaultBackoff(f.props.MinRetryDelay, f.props.MaxRetryDelay, attempt, nil)
			delay += f.jitter()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		pc, err := f.attempt(ctx)
		if err == nil {
			return pc, nil
		}
		lastErr = err
		if !isRetryableConnectError(err) {
			// Design §4.4: only ConnectRefused, a generic transport
			// timeout, or ChannelInactive are retried; anything else
			// (a certificate validation failure, for instance) stops
			// immediately rather than spinning through the whole budget.
			return nil, fmt.Errorf("transport: connect to %s failed: %w", f.authority, err)
		}
		f.log.Warn(f.authority, "connect attempt %d/%d failed: %v", attempt+1, attempts, err)
	}
	return nil, fmt.Errorf("transport: exhausted connect retries to %s: %w", f.authority, lastErr)
}

// isRetryableConnectError reports whether a Make attempt's failure is one
// of the three causes design §4.4 retries: connection refused, a generic
// transport timeout, or ChannelInactive (the proxy CONNECT failure path).
// Anything else — a TLS certificate error in particular — is not a
// transient condition another attempt would resolve.
func isRetryableConnectError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, errs.ErrChannelInactive) {
		return true
	}
	return false
}

func (f *Factory) jitter() time.Duration {
	if f.props.ConnectionRetryFuzzInterval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(f.props.ConnectionRetryFuzzInterval)))
}

func (f *Factory) attempt(ctx context.Context) (*PoolableChannel, error) {
	connectCtx := ctx
	var cancel context.CancelFunc
	if f.props.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, f.props.ConnectTimeout)
		defer cancel()
	}

	rawConn, err := f.dial(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := tls.Client(rawConn, f.tlsConfig)
	if err := tlsConn.HandshakeContext(connectCtx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	tr := &http2.Transport{}
	if f.props.MonitorConnectionHealth && f.props.IdleInterval > 0 {
		tr.ReadIdleTimeout = f.props.IdleInterval
		tr.PingTimeout = 15 * time.Second
	}
	cc, err := tr.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("http2 preface: %w", err)
	}

	// NewClientConn returns once the local preface/SETTINGS are written and
	// its background read loop is started — it does not wait for the
	// peer's reply, so cc.State() still reports the library's own
	// pre-negotiation placeholder here, not the peer-advertised
	// MAX_CONCURRENT_STREAMS PoolableChannel's watermarks must be derived
	// from (design §4.4/§6.1). A PING round trip is a safe, idiomatic way
	// to wait for it: RFC 7540 §3.5 requires the peer's first frame to be
	// SETTINGS, and ClientConn's single read loop applies frames strictly
	// in arrival order, so by the time our PING is acknowledged the
	// SETTINGS frame is already reflected in cc.State().
	if err := cc.Ping(connectCtx); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("waiting for http2 settings: %w", err)
	}

	f.seq++
	id := fmt.Sprintf("%s#%d", f.authority, f.seq)
	handler := newConnectionHandler(id, tlsConn, cc, f.authority, f.props.MaximumConnectionAge)
	return newPoolableChannel(handler, f.props.DefaultMaxConcurrentStreams, f.props.LowWatermarkFactor, f.props.HighWatermarkFactor), nil
}

func (f *Factory) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	if f.props.ProxyAddress == "" {
		return d.DialContext(ctx, "tcp", f.dialAddress)
	}
	conn, err := d.DialContext(ctx, "tcp", f.props.ProxyAddress)
	if err != nil {
		return nil, fmt.Errorf("dial proxy: %w", err)
	}
	if err := connectTunnel(ctx, conn, f.dialAddress); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// connectTunnel issues an HTTP CONNECT to establish a tunnel through an
// HTTPS proxy (pushiko design §6.4, "Proxy support").
func connectTunnel(ctx context.Context, conn net.Conn, target string) error {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}
	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		return fmt.Errorf("write connect: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: proxy connect returned %s", errs.ErrChannelInactive, resp.Status)
	}
	return nil
}

// Close satisfies pool.Factory; the factory itself owns no resources beyond
// the TLS config, so there is nothing to release.
func (f *Factory) Close() error { return nil }
