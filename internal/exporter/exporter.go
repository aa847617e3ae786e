// Package exporter publishes usage snapshots as Prometheus metrics.
package exporter

import (
	"context"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netusage/internal/usage"
)

const namespace = "netusage"

// Subscriber is the part of the monitor the exporter consumes.
type Subscriber interface {
	Subscribe() (<-chan usage.Snapshot, func())
}

type Exporter struct {
	sub      Subscriber
	registry *prometheus.Registry

	rx     *prometheus.GaugeVec
	tx     *prometheus.GaugeVec
	resets *prometheus.CounterVec

	mu    sync.Mutex
	known map[string]struct{}
}

// New creates an exporter with its own registry holding the usage metrics
// and the standard Go and process collectors.
func New(sub Subscriber) *Exporter {
	e := &Exporter{
		sub:      sub,
		registry: prometheus.NewRegistry(),
		rx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receive_bytes_per_second",
			Help:      "Bytes received per second over the last sampling interval.",
		}, []string{"interface"}),
		tx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transmit_bytes_per_second",
			Help:      "Bytes transmitted per second over the last sampling interval.",
		}, []string{"interface"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Number of times an interface's byte counters went backwards.",
		}, []string{"interface"}),
		known: make(map[string]struct{}),
	}

	e.registry.MustRegister(
		e.rx, e.tx, e.resets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Gatherer is what /metrics serves.
func (e *Exporter) Gatherer() prometheus.Gatherer { return e.registry }

// Start updates the metrics from every snapshot until ctx is cancelled or
// the subscription ends.
func (e *Exporter) Start(ctx context.Context) error {
	ch, unsub := e.sub.Subscribe()
	defer unsub()

	log.Info("Starting metrics exporter")
	defer log.Info("Stopping metrics exporter")

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			e.Observe(snap)
		}
	}
}

func (e *Exporter) Close() error { return nil }

// Observe applies one snapshot. Gauges of interfaces that are no longer
// reported are removed, and so are those of interfaces whose counters were
// reset this tick, since they have no current rate.
func (e *Exporter) Observe(snap usage.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(snap.Speeds))
	for name, sp := range snap.Speeds {
		e.rx.WithLabelValues(name).Set(sp.RxBytesPerSec)
		e.tx.WithLabelValues(name).Set(sp.TxBytesPerSec)
		seen[name] = struct{}{}
	}

	reset := make(map[string]struct{}, len(snap.Reset))
	for _, name := range snap.Reset {
		e.resets.WithLabelValues(name).Inc()
		e.rx.DeleteLabelValues(name)
		e.tx.DeleteLabelValues(name)
		reset[name] = struct{}{}
	}

	var gone []string
	for name := range e.known {
		_, live := seen[name]
		_, wasReset := reset[name]
		if !live && !wasReset {
			gone = append(gone, name)
		}
	}
	slices.Sort(gone)
	for _, name := range gone {
		e.rx.DeleteLabelValues(name)
		e.tx.DeleteLabelValues(name)
		log.WithField("interface", name).Debug("Removed metrics for vanished interface")
	}

	e.known = seen
}
