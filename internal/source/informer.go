package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/giantswarm/ctrlloop/internal/cache"
	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const subsystem = "Informer"

// DefaultBackoff is the retry schedule for failed lists and watches.
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 800 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    32,
		Cap:      30 * time.Second,
	}
}

// InformerOptions configures an Informer.
type InformerOptions[T resource.Object[T]] struct {
	// Name identifies the informer in logs.
	Name string

	ListerWatcher ListerWatcher[T]

	// ResyncPeriod re-delivers every cached object as an update at this
	// interval. Zero disables resync.
	ResyncPeriod time.Duration

	// Indexers for the cache. Defaults to cache.DefaultIndexers.
	Indexers cache.Indexers[T]

	// Backoff for list and watch failures. Defaults to DefaultBackoff.
	Backoff *wait.Backoff

	Clock clock.WithTicker
}

// Informer keeps a cache.Indexer in sync with a remote store and notifies
// handlers about every change it applies.
type Informer[T resource.Object[T]] struct {
	name         string
	lw           ListerWatcher[T]
	resyncPeriod time.Duration
	backoff      wait.Backoff
	clock        clock.WithTicker

	indexer *cache.Indexer[T]

	handlersMu sync.RWMutex
	handlers   []ResourceEventHandler[T]

	started atomic.Bool
	synced  atomic.Bool
}

// NewInformer creates an informer from opts.
func NewInformer[T resource.Object[T]](opts InformerOptions[T]) *Informer[T] {
	indexers := opts.Indexers
	if indexers == nil {
		indexers = cache.DefaultIndexers[T]()
	}
	backoff := DefaultBackoff()
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	var c clock.WithTicker = clock.RealClock{}
	if opts.Clock != nil {
		c = opts.Clock
	}
	return &Informer[T]{
		name:         opts.Name,
		lw:           opts.ListerWatcher,
		resyncPeriod: opts.ResyncPeriod,
		backoff:      backoff,
		clock:        c,
		indexer:      cache.NewIndexer[T](indexers),
	}
}

// Name returns the informer name.
func (i *Informer[T]) Name() string {
	return i.name
}

// Indexer returns the cache fed by this informer.
func (i *Informer[T]) Indexer() *cache.Indexer[T] {
	return i.indexer
}

// Lister returns a read view over the cache.
func (i *Informer[T]) Lister() *cache.Lister[T] {
	return cache.NewLister(i.indexer)
}

// HasSynced reports whether the initial list was applied to the cache and
// delivered to every handler.
func (i *Informer[T]) HasSynced() bool {
	return i.synced.Load()
}

// LastSyncResourceVersion is the resource version of the last full list.
func (i *Informer[T]) LastSyncResourceVersion() string {
	return i.indexer.LastSyncResourceVersion()
}

// AddEventHandler registers h. A handler added after the initial sync is
// first replayed the current cache contents as adds.
func (i *Informer[T]) AddEventHandler(h ResourceEventHandler[T]) {
	i.handlersMu.Lock()
	defer i.handlersMu.Unlock()

	i.handlers = append(i.handlers, h)
	if i.synced.Load() {
		for _, obj := range i.indexer.List("") {
			h.OnAdd(obj, false)
		}
	}
}

// Run lists and watches until ctx is cancelled. It never gives up on
// transient errors; it only returns an error when started twice.
func (i *Informer[T]) Run(ctx context.Context) error {
	if !i.started.CompareAndSwap(false, true) {
		return fmt.Errorf("informer %s already started", i.name)
	}

	var resync <-chan time.Time
	if i.resyncPeriod > 0 {
		ticker := i.clock.NewTicker(i.resyncPeriod)
		defer ticker.Stop()
		resync = ticker.C()
	}

	logging.Info(subsystem, "Starting informer %s", i.name)
	defer logging.Info(subsystem, "Stopped informer %s", i.name)

	backoff := i.backoff
	for {
		progressed, err := i.listAndWatch(ctx, resync)
		if ctx.Err() != nil {
			return nil
		}
		if progressed {
			backoff = i.backoff
		}

		if errors.Is(err, ErrExpired) {
			logging.Info(subsystem, "Informer %s: resource version expired, re-listing", i.name)
			continue
		}

		delay := backoff.Step()
		logging.Warn(subsystem, "Informer %s: %v, retrying in %s", i.name, err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-i.clock.After(delay):
		}
	}
}

// listAndWatch performs one list followed by as many watches as the remote
// side allows. It reports whether any watch delivered an event.
func (i *Informer[T]) listAndWatch(ctx context.Context, resync <-chan time.Time) (bool, error) {
	list, err := i.lw.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list failed: %w", err)
	}

	initial := !i.synced.Load()
	changes, err := i.indexer.Replace(list.Items, list.ResourceVersion)
	if err != nil {
		return false, fmt.Errorf("replace failed: %w", err)
	}
	for _, change := range changes {
		i.dispatch(change, initial)
	}
	if initial {
		i.synced.Store(true)
		logging.Info(subsystem, "Informer %s synced %d objects at version %s", i.name, i.indexer.Len(), list.ResourceVersion)
	} else {
		logging.Debug(subsystem, "Informer %s re-listed: %d changes", i.name, len(changes))
	}

	rv := list.ResourceVersion
	progressed := false
	for {
		w, err := i.lw.Watch(ctx, rv)
		if err != nil {
			return progressed, fmt.Errorf("watch failed: %w", err)
		}
		var delivered bool
		rv, delivered, err = i.consume(ctx, w, rv, resync)
		w.Stop()
		progressed = progressed || delivered
		if err != nil || ctx.Err() != nil {
			return progressed, err
		}
		logging.Debug(subsystem, "Informer %s: watch closed, resuming from %s", i.name, rv)
	}
}

// consume drains one watch stream, returning the last seen resource version.
func (i *Informer[T]) consume(ctx context.Context, w Watcher[T], rv string, resync <-chan time.Time) (string, bool, error) {
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return rv, delivered, nil

		case <-resync:
			i.resync()

		case ev, ok := <-w.ResultChan():
			if !ok {
				return rv, delivered, nil
			}

			var delta cache.DeltaType
			switch ev.Type {
			case Error:
				if ev.Err == nil {
					return rv, delivered, errors.New("watch error event")
				}
				return rv, delivered, ev.Err
			case Bookmark:
				if ev.ResourceVersion != "" {
					rv = ev.ResourceVersion
				}
				continue
			case Added:
				delta = cache.Added
			case Modified:
				delta = cache.Updated
			case Deleted:
				delta = cache.Deleted
			default:
				logging.Warn(subsystem, "Informer %s: ignoring unknown event type %q", i.name, ev.Type)
				continue
			}

			delivered = true
			if ev.ResourceVersion != "" {
				rv = ev.ResourceVersion
			} else if v := ev.Object.GetResourceVersion(); v != "" {
				rv = v
			}

			change, err := i.indexer.Apply(cache.Delta[T]{Type: delta, Object: ev.Object})
			if err != nil {
				logging.Error(subsystem, err, "Informer %s: failed to apply %s event", i.name, ev.Type)
				continue
			}
			i.dispatch(change, false)
		}
	}
}

func (i *Informer[T]) resync() {
	objs := i.indexer.List("")
	logging.Debug(subsystem, "Informer %s: resyncing %d objects", i.name, len(objs))

	i.handlersMu.RLock()
	defer i.handlersMu.RUnlock()
	for _, obj := range objs {
		for _, h := range i.handlers {
			h.OnUpdate(obj, obj)
		}
	}
}

func (i *Informer[T]) dispatch(change cache.Change[T], initial bool) {
	i.handlersMu.RLock()
	defer i.handlersMu.RUnlock()

	for _, h := range i.handlers {
		switch change.Type {
		case cache.ChangeAdded:
			h.OnAdd(change.New, initial)
		case cache.ChangeUpdated:
			h.OnUpdate(change.Old, change.New)
		case cache.ChangeDeleted:
			h.OnDelete(change.Old)
		}
	}
}
