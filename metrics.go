package filetree

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics exports cache behaviour to Prometheus.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	indexSize     prometheus.Gauge
}

// NewCacheMetrics creates the cache collectors and registers them with reg.
// Collectors already registered by another tree are shared. A nil reg
// registers with prometheus.DefaultRegisterer.
func NewCacheMetrics(reg prometheus.Registerer, namespace string) *CacheMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "filetree"
	}

	m := &CacheMetrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by cache (index, children) and result (hit, miss)",
			},
			[]string{"cache", "result"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Cache invalidations by scope (node, tree)",
			},
			[]string{"scope"},
		),
		indexSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_index_entries",
				Help:      "Number of wrappers in the path index",
			},
		),
	}
	m.lookups = register(reg, m.lookups)
	m.invalidations = register(reg, m.invalidations)
	m.indexSize = register(reg, m.indexSize)
	return m
}

// register registers c, reusing the collector already registered under the
// same descriptor so several trees can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *CacheMetrics) lookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(cache, result).Inc()
}

func (m *CacheMetrics) invalidated(scope string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(scope).Inc()
}

func (m *CacheMetrics) setIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}
