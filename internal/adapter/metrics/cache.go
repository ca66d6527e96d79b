package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the profile-skills cache.
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Invalidations prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile_cache",
			Name:      "hits_total",
			Help:      "Total number of profile cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile_cache",
			Name:      "misses_total",
			Help:      "Total number of profile cache misses, by layer.",
		}, []string{"layer"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile_cache",
			Name:      "invalidations_total",
			Help:      "Total number of profile cache invalidations.",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Invalidations)
	return m
}

// Hit and Miss tolerate a nil receiver so callers can run without metrics.
func (m *CacheMetrics) Hit(layer string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(layer).Inc()
}

func (m *CacheMetrics) Miss(layer string) {
	if m == nil {
		return
	}
	m.Misses.WithLabelValues(layer).Inc()
}

func (m *CacheMetrics) Invalidated() {
	if m == nil {
		return
	}
	m.Invalidations.Inc()
}
