package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics covers live connections and envelope delivery.
// All methods are no-ops on a nil receiver.
type RealtimeMetrics struct {
	ActiveConnections   prometheus.Gauge
	Delivered           *prometheus.CounterVec
	Dropped             *prometheus.CounterVec
	SlowEvictions       prometheus.Counter
	HandshakeRejections *prometheus.CounterVec
	MalformedFrames     prometheus.Counter
	Replacements        prometheus.Counter
	RegistryQueueDepth  prometheus.Gauge
	FanoutDuration      *prometheus.HistogramVec
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of registered live connections.",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "envelopes_delivered_total",
			Help:      "Envelopes enqueued to a connection writer, by kind.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes not delivered, by kind and reason.",
		}, []string{"kind", "reason"}),
		SlowEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "slow_consumer_evictions_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		HandshakeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "handshake_rejections_total",
			Help:      "Handshakes refused, by reason.",
		}, []string{"reason"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded or handled.",
		}),
		Replacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "registry_replacements_total",
			Help:      "Registrations that superseded an existing connection for the same user.",
		}),
		RegistryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "registry_command_queue_depth",
			Help:      "Pending commands in the registry actor queue.",
		}),
		FanoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent fanning out one envelope, by scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.Delivered, m.Dropped, m.SlowEvictions, m.HandshakeRejections,
		m.MalformedFrames, m.Replacements, m.RegistryQueueDepth, m.FanoutDuration,
	)
	return m
}

func (m *RealtimeMetrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

func (m *RealtimeMetrics) EnvelopeDelivered(kind string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(kind).Inc()
}

func (m *RealtimeMetrics) EnvelopeDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(kind, reason).Inc()
}

func (m *RealtimeMetrics) SlowConsumerEvicted() {
	if m == nil {
		return
	}
	m.SlowEvictions.Inc()
}

func (m *RealtimeMetrics) HandshakeRejected(reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejections.WithLabelValues(reason).Inc()
}

func (m *RealtimeMetrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *RealtimeMetrics) ConnectionReplaced() {
	if m == nil {
		return
	}
	m.Replacements.Inc()
}

func (m *RealtimeMetrics) SetRegistryQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RegistryQueueDepth.Set(float64(n))
}

func (m *RealtimeMetrics) ObserveFanout(scope string, seconds float64) {
	if m == nil {
		return
	}
	m.FanoutDuration.WithLabelValues(scope).Observe(seconds)
}
