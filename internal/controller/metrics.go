package controller

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	labelSuccess      = "success"
	labelError        = "error"
	labelRequeue      = "requeue"
	labelRequeueAfter = "requeue_after"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctrlloop",
			Subsystem: "controller",
			Name:      "reconcile_total",
			Help:      "Total number of reconciliations per controller and result.",
		},
		[]string{"controller", "result"},
	)
	reconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctrlloop",
			Subsystem: "controller",
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconciliation errors per controller.",
		},
		[]string{"controller"},
	)
	reconcilePanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctrlloop",
			Subsystem: "controller",
			Name:      "reconcile_panics_total",
			Help:      "Total number of recovered reconciler panics per controller.",
		},
		[]string{"controller"},
	)
	reconcileTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctrlloop",
			Subsystem: "controller",
			Name:      "reconcile_time_seconds",
			Help:      "Length of time per reconciliation per controller.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"controller"},
	)
	activeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ctrlloop",
			Subsystem: "controller",
			Name:      "active_workers",
			Help:      "Number of running workers per controller.",
		},
		[]string{"controller"},
	)
)

var registerMetrics sync.Once

// RegisterMetrics registers the controller metrics with the
// controller-runtime registry.
func RegisterMetrics() {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(reconcileTotal, reconcileErrors, reconcilePanics, reconcileTime, activeWorkers)
	})
}
