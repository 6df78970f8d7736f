package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// ErrInitialSyncTimeout is returned when the caches did not sync within the
// initial sync timeout, usually because the store is unreachable.
var ErrInitialSyncTimeout = errors.New("caches did not sync in time")

// Informer is an event source the manager keeps running.
type Informer interface {
	Name() string
	Run(ctx context.Context) error
	HasSynced() bool
}

// Informers owns the event sources and caches shared by the controllers of
// one process. It is created explicitly and passed to whoever needs it.
type Informers struct {
	mu      sync.RWMutex
	items   []Informer
	names   map[string]bool
	started bool

	pollInterval time.Duration
}

// NewInformers returns an empty set.
func NewInformers() *Informers {
	return &Informers{
		names:        make(map[string]bool),
		pollInterval: 100 * time.Millisecond,
	}
}

// Register adds inf. Names must be unique and registration must happen
// before Run.
func (s *Informers) Register(inf Informer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register informer %s after start", inf.Name())
	}
	if s.names[inf.Name()] {
		return fmt.Errorf("informer %s already registered", inf.Name())
	}
	s.names[inf.Name()] = true
	s.items = append(s.items, inf)
	return nil
}

// Run runs every informer until ctx is cancelled and returns once all of
// them have stopped.
func (s *Informers) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("informers already started")
	}
	s.started = true
	items := append([]Informer(nil), s.items...)
	s.mu.Unlock()

	logging.Info("Informers", "Starting %d informers", len(items))

	g, gctx := errgroup.WithContext(ctx)
	for _, inf := range items {
		g.Go(func() error {
			if err := inf.Run(gctx); err != nil {
				return fmt.Errorf("informer %s: %w", inf.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// HasSynced reports whether every informer has synced.
func (s *Informers) HasSynced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inf := range s.items {
		if !inf.HasSynced() {
			return false
		}
	}
	return true
}

// WaitForCacheSync blocks until HasSynced or ctx is done. It returns false
// if ctx ended first.
func (s *Informers) WaitForCacheSync(ctx context.Context) bool {
	err := wait.PollUntilContextCancel(ctx, s.pollInterval, true, func(context.Context) (bool, error) {
		return s.HasSynced(), nil
	})
	return err == nil
}

// waitForInitialSync is WaitForCacheSync bounded by timeout. It returns an
// error wrapping ErrInitialSyncTimeout when timeout elapsed first, and
// false without an error when ctx ended first. A zero timeout waits for
// ctx only.
func (s *Informers) waitForInitialSync(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return s.WaitForCacheSync(ctx), nil
	}
	syncCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if s.WaitForCacheSync(syncCtx) {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, nil
	}
	return false, fmt.Errorf("%w after %s", ErrInitialSyncTimeout, timeout)
}
