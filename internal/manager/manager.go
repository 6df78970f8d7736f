package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const subsystem = "Manager"

// Controller is a named loop the manager runs once the caches synced.
type Controller interface {
	Name() string
	Run(ctx context.Context) error
}

// Manager runs a set of controllers over a shared Informers set.
type Manager struct {
	informers *Informers

	mu          sync.Mutex
	controllers []Controller
	names       map[string]bool

	initialSyncTimeout time.Duration

	// cancel and done belong to a Start/Stop pair
	cancel context.CancelFunc
	done   chan error
}

// New returns a manager over informers.
func New(informers *Informers) *Manager {
	return &Manager{
		informers: informers,
		names:     make(map[string]bool),
	}
}

// Informers returns the shared informer set.
func (m *Manager) Informers() *Informers {
	return m.informers
}

// Add registers a controller. Names must be unique.
func (m *Manager) Add(c Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.names[c.Name()] {
		return fmt.Errorf("controller %s already registered", c.Name())
	}
	m.names[c.Name()] = true
	m.controllers = append(m.controllers, c)
	logging.Info(subsystem, "Registered controller %s", c.Name())
	return nil
}

// SetInitialSyncTimeout bounds how long Run waits for the first sync of
// the caches before it gives up with ErrInitialSyncTimeout. Zero waits
// forever.
func (m *Manager) SetInitialSyncTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialSyncTimeout = d
}

func (m *Manager) syncTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialSyncTimeout
}

// HasSynced is the composite readiness of all caches.
func (m *Manager) HasSynced() bool {
	return m.informers.HasSynced()
}

// RunControllers runs every controller until ctx is cancelled and returns
// after all of them stopped.
func (m *Manager) RunControllers(ctx context.Context) error {
	m.mu.Lock()
	controllers := append([]Controller(nil), m.controllers...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range controllers {
		g.Go(func() error {
			if err := c.Run(gctx); err != nil {
				return fmt.Errorf("controller %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run starts the informers, waits for them to sync and runs the
// controllers until ctx is cancelled. Controllers are stopped before the
// informers. Run fails when the caches miss the initial sync timeout.
func (m *Manager) Run(ctx context.Context) error {
	informersCtx, stopInformers := context.WithCancel(context.WithoutCancel(ctx))
	informersDone := make(chan error, 1)
	go func() {
		informersDone <- m.informers.Run(informersCtx)
	}()

	stop := func() error {
		stopInformers()
		return <-informersDone
	}

	synced, err := m.informers.waitForInitialSync(ctx, m.syncTimeout())
	if err != nil {
		logging.Error(subsystem, err, "Initial cache sync failed")
		return errors.Join(err, stop())
	}
	if !synced {
		logging.Info(subsystem, "Stopped before caches synced")
		return stop()
	}
	logging.Info(subsystem, "Caches synced, starting controllers")

	err = m.RunControllers(ctx)
	if stopErr := stop(); err == nil {
		err = stopErr
	}
	logging.Info(subsystem, "All controllers and informers stopped")
	return err
}

// Start runs the manager in the background until Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("manager already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	m.cancel, m.done = cancel, done
	go func() {
		done <- m.Run(ctx)
	}()
	return nil
}

// Stop cancels a manager started with Start and waits until controllers
// and then informers have stopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}
