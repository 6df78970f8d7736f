package workqueue

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	namespace = "ctrlloop"
	subsystem = "workqueue"
)

var (
	depth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "depth",
			Help:      "Current number of pending keys.",
		},
		[]string{"name"},
	)
	adds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adds_total",
			Help:      "Total number of keys pushed onto the queue.",
		},
		[]string{"name"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Total number of rate limited retries.",
		},
		[]string{"name"},
	)
	queueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_duration_seconds",
			Help:      "Time a key spends pending before Get hands it out.",
			Buckets:   prometheus.ExponentialBuckets(10e-9, 10, 12),
		},
		[]string{"name"},
	)
	workDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "work_duration_seconds",
			Help:      "Time between Get and Done for a key.",
			Buckets:   prometheus.ExponentialBuckets(10e-9, 10, 12),
		},
		[]string{"name"},
	)
)

var registerMetrics sync.Once

// RegisterMetrics registers the queue metrics with the controller-runtime
// registry.
func RegisterMetrics() {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(depth, adds, retries, queueDuration, workDuration)
	})
}

// queueMetrics records the metrics of one named queue. A nil receiver is a
// no-op so unnamed queues carry no cost.
type queueMetrics struct {
	depth         prometheus.Gauge
	adds          prometheus.Counter
	retries       prometheus.Counter
	queueDuration prometheus.Observer
	workDuration  prometheus.Observer
}

func newQueueMetrics(name string) *queueMetrics {
	if name == "" {
		return nil
	}
	return &queueMetrics{
		depth:         depth.WithLabelValues(name),
		adds:          adds.WithLabelValues(name),
		retries:       retries.WithLabelValues(name),
		queueDuration: queueDuration.WithLabelValues(name),
		workDuration:  workDuration.WithLabelValues(name),
	}
}

func (m *queueMetrics) add() {
	if m == nil {
		return
	}
	m.adds.Inc()
	m.depth.Inc()
}

func (m *queueMetrics) get(waited time.Duration) {
	if m == nil {
		return
	}
	m.depth.Dec()
	m.queueDuration.Observe(waited.Seconds())
}

func (m *queueMetrics) done(worked time.Duration) {
	if m == nil {
		return
	}
	m.workDuration.Observe(worked.Seconds())
}

func (m *queueMetrics) discard(n int) {
	if m == nil {
		return
	}
	m.depth.Sub(float64(n))
}

func (m *queueMetrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
