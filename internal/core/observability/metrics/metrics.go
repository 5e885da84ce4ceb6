package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authority"

// Metrics holds the collectors of the authority core. A nil *Metrics is valid
// and records nothing, so packages can take one without checking.
type Metrics struct {
	registry *prometheus.Registry

	EntitiesCreated     *prometheus.CounterVec
	EntitiesDestroyed   *prometheus.CounterVec
	EntitiesAlive       *prometheus.GaugeVec
	PendingDestruction  prometheus.Gauge
	PermissionDenied    *prometheus.CounterVec
	NetworkingRollbacks prometheus.Counter
	AllocationsDropped  *prometheus.CounterVec
	FramesSent          *prometheus.CounterVec
	FramesReceived      *prometheus.CounterVec
	PeersConnected      prometheus.Gauge
	TickDuration        prometheus.Histogram
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EntitiesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "created_total",
				Help:      "Total number of entities created, by kind",
			},
			[]string{"kind"},
		),
		EntitiesDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "destroyed_total",
				Help:      "Total number of entities deallocated, by kind",
			},
			[]string{"kind"},
		),
		EntitiesAlive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "alive",
				Help:      "Entities currently indexed, by kind",
			},
			[]string{"kind"},
		),
		PendingDestruction: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entities",
				Name:      "pending_destruction",
				Help:      "Objects waiting for the next tick to be deallocated",
			},
		),
		PermissionDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "permission",
				Name:      "denied_total",
				Help:      "Permission checks that failed, by key",
			},
			[]string{"key"},
		),
		NetworkingRollbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "permission",
				Name:      "networking_rollbacks_total",
				Help:      "Tree-wide networking type changes rejected and rolled back",
			},
		),
		AllocationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "allocations_dropped_total",
				Help:      "Inbound allocation requests that could not be honored, by kind",
			},
			[]string{"kind"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "frames_sent_total",
				Help:      "Replication frames sent, by operation",
			},
			[]string{"op"},
		),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "frames_received_total",
				Help:      "Replication frames received, by operation",
			},
			[]string{"op"},
		),
		PeersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "peers_connected",
				Help:      "Currently connected peers",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "tick_duration_seconds",
				Help:      "Duration of one update tick",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
	}

	m.registry.MustRegister(
		m.EntitiesCreated,
		m.EntitiesDestroyed,
		m.EntitiesAlive,
		m.PendingDestruction,
		m.PermissionDenied,
		m.NetworkingRollbacks,
		m.AllocationsDropped,
		m.FramesSent,
		m.FramesReceived,
		m.PeersConnected,
		m.TickDuration,
	)

	return m
}

// Registry exposes the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) EntityCreated(kind string) {
	if m == nil {
		return
	}
	m.EntitiesCreated.WithLabelValues(kind).Inc()
	m.EntitiesAlive.WithLabelValues(kind).Inc()
}

func (m *Metrics) EntityDestroyed(kind string) {
	if m == nil {
		return
	}
	m.EntitiesDestroyed.WithLabelValues(kind).Inc()
	m.EntitiesAlive.WithLabelValues(kind).Dec()
}

func (m *Metrics) SetPendingDestruction(n int) {
	if m == nil {
		return
	}
	m.PendingDestruction.Set(float64(n))
}

func (m *Metrics) Denied(key string) {
	if m == nil {
		return
	}
	m.PermissionDenied.WithLabelValues(key).Inc()
}

func (m *Metrics) RolledBack() {
	if m == nil {
		return
	}
	m.NetworkingRollbacks.Inc()
}

func (m *Metrics) AllocationDropped(kind string) {
	if m == nil {
		return
	}
	m.AllocationsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(op string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(op).Inc()
}

func (m *Metrics) FrameReceived(op string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(op).Inc()
}

func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.PeersConnected.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.PeersConnected.Dec()
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}
