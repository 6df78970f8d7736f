package leaderelection

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	leaderGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ctrlloop",
			Subsystem: "leader_election",
			Name:      "is_leader",
			Help:      "1 while this process holds the lease, 0 otherwise.",
		},
		[]string{"name"},
	)
	lostCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctrlloop",
			Subsystem: "leader_election",
			Name:      "lost_total",
			Help:      "Number of times leadership was lost because a renewal failed.",
		},
		[]string{"name"},
	)
)

var registerMetrics sync.Once

// RegisterMetrics registers the election metrics with the controller-runtime
// registry.
func RegisterMetrics() {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(leaderGauge, lostCounter)
	})
}

func recordLeading(name string, leading bool) {
	v := 0.0
	if leading {
		v = 1
	}
	leaderGauge.WithLabelValues(name).Set(v)
}

func recordLost(name string) {
	lostCounter.WithLabelValues(name).Inc()
}
