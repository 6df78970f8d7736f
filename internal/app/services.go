package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"

	"github.com/giantswarm/ctrlloop/internal/config"
	"github.com/giantswarm/ctrlloop/internal/controller"
	"github.com/giantswarm/ctrlloop/internal/events"
	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/internal/leaderelection/kubelock"
	"github.com/giantswarm/ctrlloop/internal/manager"
	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/internal/source/filesystem"
	"github.com/giantswarm/ctrlloop/internal/source/kube"
	"github.com/giantswarm/ctrlloop/internal/workqueue"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// Object is the type every component of the application works on.
type Object = *unstructured.Unstructured

// leaseHealthTolerance is how long past its lease a leader may go without
// renewing before /healthz fails.
const leaseHealthTolerance = 20 * time.Second

// Services holds the wired components of the application.
//
// The informer feeds one cache, the controller reconciles keys from that
// cache with the DatabasePrinter, and the manager runs both. When leader
// election is enabled, LeaderElecting wraps the manager so controllers
// only run while this process holds the lease; otherwise it is nil and the
// manager runs unconditionally.
type Services struct {
	Config config.Config

	// Identity is the resolved leader election identity, empty when
	// leader election is disabled.
	Identity string

	Informer       *source.Informer[Object]
	Controller     *controller.Controller[Object]
	Manager        *manager.Manager
	LeaderElecting *manager.LeaderElectingManager
}

// InitializeServices creates the event source, lock and event sink
// described by cfg and wires them into Services.
//
// Kubernetes mode builds a dynamic client for the configured resource and
// a typed clientset for Kubernetes Events and, when leader election is
// enabled, a Lease lock. Filesystem mode serves the manifest directory,
// logs events and runs without leader election.
func InitializeServices(cfg config.Config) (*Services, error) {
	var (
		lw       source.ListerWatcher[Object]
		lock     leaderelection.Lock
		sink     events.Sink
		identity string
	)

	switch cfg.Source.Mode {
	case config.SourceModeKubernetes:
		restConfig, err := kube.RestConfig(cfg.Source.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes client configuration: %w", err)
		}
		klw, err := kube.NewForConfig(restConfig, cfg.Source.GroupVersionResource(), cfg.Source.Namespace)
		if err != nil {
			return nil, err
		}
		lw = klw

		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
		}
		host, _ := os.Hostname()
		sink = events.NewKubeSink(clientset.CoreV1(), cfg.Controller.Name, host)

		if cfg.LeaderElection.Enabled {
			identity, err = cfg.LeaderElection.ResolveIdentity()
			if err != nil {
				return nil, err
			}
			lock = kubelock.New(clientset.CoordinationV1(), cfg.LeaderElection.LockNamespace, cfg.LeaderElection.LockName, identity)
		}

	case config.SourceModeFilesystem:
		fs, err := filesystem.New(filesystem.Options{
			Dir:              cfg.Source.Directory,
			DefaultNamespace: cfg.Controller.ListerNamespace,
			GroupVersionKind: cfg.Source.GroupVersionKind(),
		})
		if err != nil {
			return nil, err
		}
		lw = fs
		sink = events.LogSink{}

	default:
		return nil, fmt.Errorf("unsupported source mode %q", cfg.Source.Mode)
	}

	return NewServices(cfg, lw, lock, sink)
}

// NewServices wires the components around an existing event source, lock
// and event sink. lock is only used, and then required, when leader
// election is enabled. A nil sink logs events.
func NewServices(cfg config.Config, lw source.ListerWatcher[Object], lock leaderelection.Lock, sink events.Sink) (*Services, error) {
	if sink == nil {
		sink = events.LogSink{}
	}
	generator := events.NewEventGenerator(sink)

	informer := source.NewInformer(source.InformerOptions[Object]{
		Name:          cfg.Source.Resource,
		ListerWatcher: lw,
		ResyncPeriod:  cfg.Source.ResyncPeriod.Std(),
	})

	reconciler := newEventingReconciler(
		NewDatabasePrinter(informer.Lister(), cfg.Controller.ListerNamespace),
		generator,
		cfg.Source.GroupVersionKind(),
	)

	ctrl, err := controller.New(controller.Options[Object]{
		Name:             cfg.Controller.Name,
		Reconciler:       reconciler,
		Workers:          cfg.Controller.Workers,
		ReconcileTimeout: cfg.ReconcileTimeout(),
		NewRateLimiter: func() workqueue.RateLimiter[resource.Key] {
			return workqueue.NewControllerRateLimiter[resource.Key](
				cfg.Controller.BackoffBase.Std(),
				cfg.Controller.BackoffMax.Std(),
				cfg.Controller.QPS,
				cfg.Controller.Burst,
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	ctrl.Watch(informer)

	informers := manager.NewInformers()
	if err := informers.Register(informer); err != nil {
		return nil, err
	}
	m := manager.New(informers)
	m.SetInitialSyncTimeout(cfg.Source.InitialSyncTimeout.Std())
	if err := m.Add(ctrl); err != nil {
		return nil, err
	}

	services := &Services{
		Config:     cfg,
		Informer:   informer,
		Controller: ctrl,
		Manager:    m,
	}

	if !cfg.LeaderElection.Enabled {
		logging.Info("Services", "Leader election disabled, controllers run unconditionally")
		return services, nil
	}
	if lock == nil {
		return nil, errors.New("leader election is enabled but no lock is configured")
	}

	services.Identity = lock.Identity()
	lem, err := manager.NewLeaderElecting(m, leaderelection.Config{
		Lock:            lock,
		LeaseDuration:   cfg.LeaderElection.LeaseDuration.Std(),
		RenewDeadline:   cfg.LeaderElection.RenewDeadline.Std(),
		RetryPeriod:     cfg.LeaderElection.RetryPeriod.Std(),
		ReleaseOnCancel: cfg.LeaderElection.ReleaseOnCancel,
		Name:            cfg.Controller.Name,
		Callbacks:       newLeaseEvents(generator, cfg.LeaderElection, services.Identity).callbacks(),
	})
	if err != nil {
		return nil, err
	}
	services.LeaderElecting = lem
	logging.Info("Services", "Leader election enabled on %s as %s", lock.Describe(), services.Identity)
	return services, nil
}

// Healthz fails when this process believes it leads but stopped renewing.
func (s *Services) Healthz() error {
	if s.LeaderElecting == nil {
		return nil
	}
	return s.LeaderElecting.Elector().Check(leaseHealthTolerance)
}

// Readyz fails until every cache has synced.
func (s *Services) Readyz() error {
	if !s.Manager.HasSynced() {
		return errors.New("caches not synced")
	}
	return nil
}
