// control/prom.go
// Author: momentics <momentics@gmail.com>
//
// PromMetrics is the scrape-friendly face of instance telemetry. It is
// joined with, not a replacement for, MetricsRegistry: MetricsRegistry
// stays the ad hoc snapshot map a debug endpoint can dump as JSON,
// while PromMetrics exposes the same kind of counters/gauges in the
// shape a Prometheus scraper expects.

package control

import "github.com/prometheus/client_golang/prometheus"

// PromMetrics holds the counters/gauges an instance.Manager updates as
// it runs: error-site counts by taxonomy code, link state per channel,
// and heartbeat miss counts per channel. RingFullTotal and
// RingEmptyTotal are registered but not updated by instance.Manager.
type PromMetrics struct {
	ErrorsTotal       *prometheus.CounterVec
	LinkState         *prometheus.GaugeVec
	HeartbeatMisses   *prometheus.GaugeVec
	HeartbeatTimeouts prometheus.Counter
	RingFullTotal     prometheus.Counter
	RingEmptyTotal    prometheus.Counter
}

// NewPromMetrics builds and registers a fresh PromMetrics against reg.
// Callers that run more than one instance in the same process should
// pass a distinct prometheus.Registry per instance to avoid duplicate
// metric-name registration panics.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picc_ipc",
			Name:      "errors_total",
			Help:      "Count of errors captured at their call site, by apicore.Code.",
		}, []string{"code"}),
		LinkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "picc_ipc",
			Name:      "link_state",
			Help:      "Current link state per channel (0=DISCONNECTED, 1=CONNECTING, 2=CONNECTED).",
		}, []string{"channel"}),
		HeartbeatMisses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "picc_ipc",
			Name:      "heartbeat_misses",
			Help:      "Current consecutive missed-Pong count per monitored channel.",
		}, []string{"channel"}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picc_ipc",
			Name:      "heartbeat_timeouts_total",
			Help:      "Count of heartbeat timeout callbacks delivered.",
		}),
		RingFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picc_ipc",
			Name:      "ring_full_total",
			Help:      "Count of ring push attempts observing FULL.",
		}),
		RingEmptyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picc_ipc",
			Name:      "ring_empty_total",
			Help:      "Count of ring pop attempts observing EMPTY/NO_QUEUE.",
		}),
	}
	reg.MustRegister(
		m.ErrorsTotal, m.LinkState, m.HeartbeatMisses,
		m.HeartbeatTimeouts, m.RingFullTotal, m.RingEmptyTotal,
	)
	return m
}
