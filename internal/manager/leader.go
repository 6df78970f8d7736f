package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// LeaderElectingManager runs the informers of a Manager all the time and
// its controllers only while this process holds the lease.
type LeaderElectingManager struct {
	manager *Manager
	elector *leaderelection.LeaderElector

	// callbacks supplied by the caller, chained after our own
	hooks leaderelection.Callbacks
}

// NewLeaderElecting wraps m in a leader election. Callbacks set in config
// are chained: OnStartedLeading runs before the controllers start and must
// not block, OnStoppedLeading and OnNewLeader run after our own handling.
func NewLeaderElecting(m *Manager, config leaderelection.Config) (*LeaderElectingManager, error) {
	lem := &LeaderElectingManager{
		manager: m,
		hooks:   config.Callbacks,
	}
	config.Callbacks = leaderelection.Callbacks{
		OnStartedLeading: lem.onStartedLeading,
		OnStoppedLeading: lem.onStoppedLeading,
		OnNewLeader:      lem.onNewLeaderObserved,
	}

	elector, err := leaderelection.NewLeaderElector(config)
	if err != nil {
		return nil, fmt.Errorf("invalid leader election config: %w", err)
	}
	lem.elector = elector
	return lem, nil
}

// Elector returns the underlying elector.
func (l *LeaderElectingManager) Elector() *leaderelection.LeaderElector {
	return l.elector
}

// Manager returns the wrapped manager.
func (l *LeaderElectingManager) Manager() *Manager {
	return l.manager
}

// HasSynced is the composite readiness of all caches.
func (l *LeaderElectingManager) HasSynced() bool {
	return l.manager.HasSynced()
}

// Run keeps the caches warm and takes part in the election until ctx is
// cancelled. When Run returns, controllers have stopped before informers.
// Missing the initial sync timeout ends Run with ErrInitialSyncTimeout.
func (l *LeaderElectingManager) Run(ctx context.Context) error {
	informers := l.manager.Informers()

	informersCtx, stopInformers := context.WithCancel(context.WithoutCancel(ctx))
	informersDone := make(chan error, 1)
	go func() {
		informersDone <- informers.Run(informersCtx)
	}()

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	go func() {
		synced, err := informers.waitForInitialSync(runCtx, l.manager.syncTimeout())
		if err != nil {
			logging.Error(subsystem, err, "Initial cache sync failed")
			cancelRun(err)
			return
		}
		if !synced {
			return
		}
		logging.Info(subsystem, "Caches synced")
		notify(daemon.SdNotifyReady)
	}()

	l.elector.Run(runCtx)

	notify(daemon.SdNotifyStopping)
	stopInformers()
	err := <-informersDone
	if cause := context.Cause(runCtx); errors.Is(cause, ErrInitialSyncTimeout) {
		err = errors.Join(cause, err)
	}
	logging.Info(subsystem, "Leader electing manager stopped")
	return err
}

func (l *LeaderElectingManager) onStartedLeading(ctx context.Context) {
	logging.Info(subsystem, "Started leading, waiting for caches before starting controllers")
	if l.hooks.OnStartedLeading != nil {
		l.hooks.OnStartedLeading(ctx)
	}
	if !l.manager.Informers().WaitForCacheSync(ctx) {
		return
	}
	if err := l.manager.RunControllers(ctx); err != nil {
		logging.Error(subsystem, err, "Controllers stopped with error")
	}
}

func (l *LeaderElectingManager) onStoppedLeading() {
	logging.Info(subsystem, "Stopped leading, controllers are stopped")
	if l.hooks.OnStoppedLeading != nil {
		l.hooks.OnStoppedLeading()
	}
}

func (l *LeaderElectingManager) onNewLeaderObserved(identity string) {
	logging.Info(subsystem, "New leader observed: %s", identity)
	if l.hooks.OnNewLeader != nil {
		l.hooks.OnNewLeader(identity)
	}
}

func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logging.Warn(subsystem, "Failed to notify systemd: %v", err)
	}
}
