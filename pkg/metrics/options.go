package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace prefixes every metric name. Empty keeps "pulse".
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers the collectors on reg instead of the default
// registerer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithLatencyBuckets sets the millisecond buckets shared by HTTP, store and
// queue wait histograms.
func WithLatencyBuckets(ms []float64) Option {
	return func(m *Manager) {
		if len(ms) > 0 {
			m.latencyBuckets = ms
		}
	}
}

// WithTickBuckets sets the millisecond buckets of the tick processing
// histogram. A tick normally finishes in well under a millisecond.
func WithTickBuckets(ms []float64) Option {
	return func(m *Manager) {
		if len(ms) > 0 {
			m.tickBuckets = ms
		}
	}
}
