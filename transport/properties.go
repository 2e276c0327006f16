// Package transport implements the per-connection HTTP/2 state machine
// (ConnectionHandler), the connection factory (Factory/ChannelFactory) and
// the pool-facing wrapper (PoolableChannel) described in pushiko design
// §4.4–§4.6.
//
// It is built directly on golang.org/x/net/http2's client side
// (http2.Transport / http2.ClientConn) rather than a hand-rolled frame
// listener: ClientConn already does the HEADERS/DATA/SETTINGS/PING/GOAWAY
// bookkeeping the design's "ConnectionHandler" section describes, and
// exposes exactly the primitives this module needs on top of it
// (RoundTrip, Ping, Shutdown, CanTakeNewRequest, State). nabbar-golib's
// httpserver package is this pack's one example of golang.org/x/net/http2
// wired into real code (server-side, via http2.ConfigureServer); this
// module is the client-side counterpart of the same library.
package transport

import "time"

// Properties are the HTTP client properties described in pushiko design §3.
// All fields are immutable after construction.
type Properties struct {
	// ConnectTimeout bounds TCP+TLS+HTTP/2 preface establishment.
	ConnectTimeout time.Duration

	// ConnectionAcquisitionTimeout bounds how long Client.Send waits for a
	// permit from the pool.
	ConnectionAcquisitionTimeout time.Duration

	// MaximumConnectionAge bounds a channel's lifetime from activation. A
	// zero or negative value disables the bound (infinite age).
	MaximumConnectionAge time.Duration

	// MaximumConnectRetries bounds ChannelFactory.Make's retry attempts.
	MaximumConnectRetries int

	// DefaultMaxConcurrentStreams is the watermark basis used when
	// ConnectionHandler.MaxConcurrentStreams reports no value (0). A
	// positive peer-advertised value replaces it, even a smaller one.
	DefaultMaxConcurrentStreams int

	// LowWatermarkFactor / HighWatermarkFactor scale the observed (or
	// default) MAX_CONCURRENT_STREAMS into PoolableChannel's water_mark
	// (pushiko design §4, "low_factor = 1/3, high_factor = 1"). Zero means
	// "use the design defaults".
	LowWatermarkFactor  float64
	HighWatermarkFactor float64

	// IdleInterval is the duration of no traffic after which the idle
	// handler fires (pushiko design §4.5, "Idle / liveness pings").
	IdleInterval time.Duration

	// MaxRequestRetries is carried as a property only. client.Client does
	// not read it: Client.Send's retry budget comes from
	// client.Config.MaxRequestRetries (0 there means 3 * pool MaximumSize).
	MaxRequestRetries int

	// TCPUserTimeout is the TCP_USER_TIMEOUT value. golang.org/x/net/http2
	// does not expose this directly, and Factory does not apply it: its
	// dialer is a plain net.Dialer with no Control hook.
	TCPUserTimeout time.Duration

	// ConnectionRetryFuzzInterval bounds the jitter window
	// ChannelFactory.Make's back-off draws from.
	ConnectionRetryFuzzInterval time.Duration

	// MinRetryDelay / MaxRetryDelay bound the exponential back-off applied
	// between connect attempts.
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration

	// ProxyAddress, if set, is an unresolved HTTPS proxy address; the
	// factory installs an HTTP CONNECT handshake before the TLS handshake
	// and resolves this address lazily at connection time (pushiko design
	// §6.4).
	ProxyAddress string

	// WantsALPN controls whether the TLS ClientHello advertises ALPN=h2.
	// FCM requires it; APNs does not (pushiko design §6.1, §6.3).
	WantsALPN bool

	// MonitorConnectionHealth enables the liveness-ping idle handler
	// (pushiko design §4.5). FCM defaults this to false (design notes
	// §9, "Open question — PING backoff").
	MonitorConnectionHealth bool

	// InsecureSkipVerify is surfaced only for the fake HTTP/2 test server,
	// which self-signs; production peers are never configured with this.
	InsecureSkipVerify bool
}

// DefaultProperties returns conservative, generally-safe defaults; peer
// presets (package peer) override the fields that are peer-specific.
func DefaultProperties() Properties {
	return Properties{
		ConnectTimeout:               10 * time.Second,
		ConnectionAcquisitionTimeout: 5 * time.Second,
		MaximumConnectionAge:         0,
		MaximumConnectRetries:        5,
		DefaultMaxConcurrentStreams:  100,
		LowWatermarkFactor:           1.0 / 3.0,
		HighWatermarkFactor:          1.0,
		IdleInterval:                 5 * time.Minute,
		ConnectionRetryFuzzInterval:  250 * time.Millisecond,
		MinRetryDelay:                200 * time.Millisecond,
		MaxRetryDelay:                30 * time.Second,
		MonitorConnectionHealth:      true,
	}
}
