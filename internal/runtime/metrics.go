package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newBusCounterVec creates a new counter vec with the standard flowbus/bus namespace.
func newBusCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowbus",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newBusHistogramVec creates a new histogram vec with the standard flowbus/bus namespace.
func newBusHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowbus",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// BusMetrics collects publish and consume counters as Prometheus collectors.
// Install its middlewares on the publisher and subscriber pipelines.
type BusMetrics struct {
	mu sync.Mutex

	publishedTotal  *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	consumedTotal   *prometheus.CounterVec
	consumeErrors   *prometheus.CounterVec
	consumeDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// NewBusMetrics creates the collectors. Pass nil to use the default
// registerer.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BusMetrics{
		registerer:      registerer,
		publishedTotal:  newBusCounterVec("published_total", "Total number of events published", []string{"event"}),
		publishErrors:   newBusCounterVec("publish_errors_total", "Total number of failed publishes", []string{"event"}),
		publishDuration: newBusHistogramVec("publish_duration_seconds", "Time spent publishing an event", durationBuckets, []string{"event"}),
		consumedTotal:   newBusCounterVec("consumed_total", "Total number of handler invocations", []string{"event"}),
		consumeErrors:   newBusCounterVec("consume_errors_total", "Total number of failed handler invocations", []string{"event"}),
		consumeDuration: newBusHistogramVec("consume_duration_seconds", "Time spent handling an event", durationBuckets, []string{"event"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BusMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.publishErrors,
		m.publishDuration,
		m.consumedTotal,
		m.consumeErrors,
		m.consumeDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// PublishMiddleware records publish counts, errors, and durations.
func (m *BusMetrics) PublishMiddleware() PublishMiddleware {
	return func(ctx context.Context, eventName string, payload any, options *PublishOptions, next func() error) error {
		start := time.Now()
		err := next()
		m.publishDuration.WithLabelValues(eventName).Observe(time.Since(start).Seconds())
		m.publishedTotal.WithLabelValues(eventName).Inc()
		if err != nil {
			m.publishErrors.WithLabelValues(eventName).Inc()
		}
		return err
	}
}

// SubscribeMiddleware records handler counts, errors, and durations.
func (m *BusMetrics) SubscribeMiddleware() SubscribeMiddleware {
	return func(ctx context.Context, eventName string, payload any, mctx *MessageContext, next func() error) error {
		start := time.Now()
		err := next()
		m.consumeDuration.WithLabelValues(eventName).Observe(time.Since(start).Seconds())
		m.consumedTotal.WithLabelValues(eventName).Inc()
		if err != nil {
			m.consumeErrors.WithLabelValues(eventName).Inc()
		}
		return err
	}
}
