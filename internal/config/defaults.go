package config

import (
	"time"

	"github.com/giantswarm/ctrlloop/internal/workqueue"
)

const (
	// DefaultControllerName is the name of the database printing controller.
	DefaultControllerName = "db-printing-controller"

	// DefaultMetricsBindAddress serves metrics and health checks.
	DefaultMetricsBindAddress = ":8080"

	// DefaultReconcileTimeout bounds a reconcile without leader election.
	DefaultReconcileTimeout = 30 * time.Second

	// DefaultInitialSyncTimeout is how long the first list may fail before
	// the manager gives up.
	DefaultInitialSyncTimeout = time.Minute
)

// GetDefaultConfig returns the default configuration: the database printing
// controller watching databases.stable.imaginedata.co/v1 under a Kubernetes
// lease.
func GetDefaultConfig() Config {
	return Config{
		Source: SourceConfig{
			Mode:         SourceModeKubernetes,
			Group:        "stable.imaginedata.co",
			Version:      "v1",
			Resource:     "databases",
			Kind:         "Database",
			Namespace:    "",
			ResyncPeriod: Duration(10 * time.Second),

			InitialSyncTimeout: Duration(DefaultInitialSyncTimeout),
		},
		Controller: ControllerConfig{
			Name:            DefaultControllerName,
			Workers:         4,
			BackoffBase:     Duration(workqueue.DefaultBaseDelay),
			BackoffMax:      Duration(workqueue.DefaultMaxDelay),
			QPS:             workqueue.DefaultQPS,
			Burst:           workqueue.DefaultBurst,
			ListerNamespace: "default",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:         true,
			LockNamespace:   "kube-system",
			LockName:        "leader-election",
			LeaseDuration:   Duration(10 * time.Second),
			RenewDeadline:   Duration(8 * time.Second),
			RetryPeriod:     Duration(5 * time.Second),
			ReleaseOnCancel: true,
		},
		Metrics: MetricsConfig{
			BindAddress: DefaultMetricsBindAddress,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ReconcileTimeout returns controller.reconcileTimeout, or when it is unset
// the lease renew deadline under leader election and
// DefaultReconcileTimeout otherwise. A reconcile then cannot outlive the
// lease it started under.
func (c Config) ReconcileTimeout() time.Duration {
	if c.Controller.ReconcileTimeout > 0 {
		return c.Controller.ReconcileTimeout.Std()
	}
	if c.LeaderElection.Enabled && c.LeaderElection.RenewDeadline > 0 {
		return c.LeaderElection.RenewDeadline.Std()
	}
	return DefaultReconcileTimeout
}
