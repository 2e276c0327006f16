// Package xmetrics exposes pushiko design §9's one required gauge
// (connection_count) plus two pool summary gauges the pack's services
// typically export alongside it (nabbar-golib/prometheus wires a metrics
// registry the same way — a package-level set of collectors registered
// against a caller-supplied *prometheus.Registry — though this package
// talks to github.com/prometheus/client_golang directly rather than
// through that package's heavier registration-types abstraction, which
// pulls in machinery pushiko's three-gauge surface doesn't need).
package xmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bloomberg/pushiko-sub000/client"
)

// Collectors bundles the gauges this module exports.
type Collectors struct {
	connectionCount     *prometheus.GaugeVec
	pendingCreation     *prometheus.GaugeVec
	pendingAcquisitions *prometheus.GaugeVec
}

// NewCollectors builds and registers the collectors against reg. namespace
// is typically "pushiko".
func NewCollectors(reg prometheus.Registerer, namespace string) *Collectors {
	c := &Collectors{
		connectionCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_count",
			Help:      "Number of live poolable HTTP/2 channels.",
		}, []string{"peer"}),
		pendingCreation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_creation_count",
			Help:      "Number of channel creations currently in flight.",
		}, []string{"peer"}),
		pendingAcquisitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_acquisitions",
			Help:      "Number of acquisitions currently waiting for a permit.",
		}, []string{"peer"}),
	}
	reg.MustRegister(c.connectionCount, c.pendingCreation, c.pendingAcquisitions)
	return c
}

// Watch polls c.Snapshot every interval until ctx is cancelled, updating the
// gauges registered under peerName.
func (c *Collectors) Watch(ctx context.Context, peerName string, cl *client.Client, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := cl.Snapshot(ctx)
			c.connectionCount.WithLabelValues(peerName).Set(float64(s.PoolSize))
			c.pendingCreation.WithLabelValues(peerName).Set(float64(s.PendingCreationCount))
			c.pendingAcquisitions.WithLabelValues(peerName).Set(float64(s.PendingAcquisitions))
		}
	}
}
