// Package metrics holds the Prometheus collectors exported on the admin
// /metrics endpoint. All recording methods accept a nil receiver so that
// components can run without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "scee"

// Auth outcomes
const (
	AuthOK       = "ok"
	AuthRejected = "rejected"
	AuthBusy     = "busy"
	AuthError    = "error"
)

// Reasons a frame is dropped without being handled
const (
	DropMalformed   = "malformed"
	DropRateLimited = "rate_limited"
	DropSendFull    = "send_buffer_full"
)

// Metrics is the set of collectors for one server
type Metrics struct {
	Registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	broadcasts        prometheus.Counter
	deliveries        prometheus.Counter
	authRequests      *prometheus.CounterVec
	authLatency       prometheus.Histogram
	workerSpawns      prometheus.Counter
}

// New creates collectors on a fresh registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Client connections currently open.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted since start.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded client frames by action.",
		}, []string{"action"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped without being handled, by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Room broadcasts fanned out.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast frames queued to individual recipients.",
		}),
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Credential checks by outcome.",
		}, []string{"result"}),
		authLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "request_duration_seconds",
			Help:      "Time from login frame to auth worker verdict.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		workerSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "worker_spawns_total",
			Help:      "Auth worker processes started, including respawns.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsActive,
		m.connectionsTotal,
		m.framesReceived,
		m.framesDropped,
		m.broadcasts,
		m.deliveries,
		m.authRequests,
		m.authLatency,
		m.workerSpawns,
	)
	return m
}

// RegisterSessionGauge exports the number of sessions in each state as
// computed by count at scrape time.
func (m *Metrics) RegisterSessionGauge(states []string, count func(state string) int) {
	if m == nil {
		return
	}
	for _, state := range states {
		state := state
		m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sessions",
			Help:        "Sessions by connection state.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 {
			return float64(count(state))
		}))
	}
}

// ConnectionOpened records an accepted connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a finished connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// FrameReceived counts a decoded frame
func (m *Metrics) FrameReceived(action string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(action).Inc()
}

// FrameDropped counts a frame that was not handled
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// Broadcast counts one fan-out and the recipients it reached
func (m *Metrics) Broadcast(delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(delivered))
}

// AuthResult records the outcome and duration of one credential check
func (m *Metrics) AuthResult(result string, seconds float64) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(result).Inc()
	m.authLatency.Observe(seconds)
}

// WorkerSpawned counts an auth worker start
func (m *Metrics) WorkerSpawned() {
	if m == nil {
		return
	}
	m.workerSpawns.Inc()
}
