// Package peer names the concrete push-notification endpoints pushiko
// talks to, turning spec §6.3's prose constants into exported Preset
// values so callers (and internal/config's loader) have a single source of
// truth for host, ALPN, connection age, watermarks and retry policy instead
// of every call site re-deriving them.
package peer

import "time"

// Preset bundles an endpoint's host and the transport/retry parameters the
// design ties to it.
type Preset struct {
	Name string

	// Address is host:port, dialed directly (subject to transport.
	// Properties.ProxyAddress).
	Address string

	WantsALPN               bool
	MaximumConnectionAge    time.Duration
	LowWatermark            int
	HighWatermark           int
	MonitorConnectionHealth bool

	// Retry502DefaultDelay is used when a 502 response carries no
	// Retry-After header.
	Retry502DefaultDelay time.Duration
	// RetryInitialBackoff / RetryBackoffMultiplier drive the exponential
	// schedule applied to 502/503 responses absent a usable Retry-After.
	RetryInitialBackoff    time.Duration
	RetryBackoffMultiplier float64
}

// APNsProduction is spec §6.3's "APNs production" preset.
var APNsProduction = Preset{
	Name:                    "apns-production",
	Address:                 "api.push.apple.com:443",
	WantsALPN:               false,
	MaximumConnectionAge:    0, // infinite
	LowWatermark:            500,
	HighWatermark:           1200,
	MonitorConnectionHealth: true,
}

// APNsDevelopment is spec §6.3's "APNs development" preset. The design note
// "use single-thread event loop" is naturally satisfied here: every
// PoolableChannel this preset produces is driven exclusively through its
// owning pool's SingleThreadScopeGroup, same as production.
var APNsDevelopment = Preset{
	Name:                    "apns-development",
	Address:                 "api.sandbox.push.apple.com:443",
	WantsALPN:               false,
	MaximumConnectionAge:    10 * time.Minute,
	LowWatermark:            500,
	HighWatermark:           1200,
	MonitorConnectionHealth: true,
}

// FCM is spec §6.3's FCM preset.
var FCM = Preset{
	Name:                    "fcm",
	Address:                 "fcm.googleapis.com:443",
	WantsALPN:               true,
	MaximumConnectionAge:    59 * time.Minute,
	LowWatermark:            30,
	HighWatermark:           150,
	MonitorConnectionHealth: false,
	Retry502DefaultDelay:    30 * time.Second,
	RetryInitialBackoff:     time.Second,
	RetryBackoffMultiplier:  2,
}
