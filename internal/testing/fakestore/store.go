// Package fakestore is an in-memory remote store for tests and simulations.
// It implements the list-then-watch protocol of source.ListerWatcher and a
// conditional lease record for leaderelection.Lock, with knobs to inject the
// failures a real API server produces.
package fakestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/internal/source"
)

// Store holds objects of one type and streams their changes.
type Store[T resource.Object[T]] struct {
	mu sync.Mutex

	rv      uint64
	objects map[resource.Key]T

	// history holds every event after compactedRV, oldest first
	history     []source.WatchEvent[T]
	compactedRV uint64

	watchers map[*watcher[T]]struct{}

	listErr   error
	listCalls int
}

// New returns an empty store.
func New[T resource.Object[T]]() *Store[T] {
	return &Store[T]{
		objects:  make(map[resource.Key]T),
		watchers: make(map[*watcher[T]]struct{}),
	}
}

// Create adds obj and returns the stored copy with its resource version.
func (s *Store[T]) Create(obj T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resource.KeyOf(obj)
	if _, ok := s.objects[key]; ok {
		var zero T
		return zero, fmt.Errorf("%s already exists", key)
	}
	return s.writeLocked(source.Added, obj), nil
}

// Update replaces obj and returns the stored copy with its new resource
// version.
func (s *Store[T]) Update(obj T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resource.KeyOf(obj)
	if _, ok := s.objects[key]; !ok {
		var zero T
		return zero, fmt.Errorf("%s not found", key)
	}
	return s.writeLocked(source.Modified, obj), nil
}

// Delete removes the object stored under key.
func (s *Store[T]) Delete(key resource.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("%s not found", key)
	}
	s.writeLocked(source.Deleted, existing)
	return nil
}

// Get returns a copy of the object stored under key.
func (s *Store[T]) Get(key resource.Key) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		var zero T
		return zero, false
	}
	return obj.DeepCopy(), true
}

func (s *Store[T]) writeLocked(eventType source.EventType, obj T) T {
	s.rv++
	rv := strconv.FormatUint(s.rv, 10)

	stored := obj.DeepCopy()
	stored.SetResourceVersion(rv)

	key := resource.KeyOf(stored)
	if eventType == source.Deleted {
		delete(s.objects, key)
	} else {
		s.objects[key] = stored
	}

	ev := source.WatchEvent[T]{Type: eventType, Object: stored, ResourceVersion: rv}
	s.history = append(s.history, ev)
	for w := range s.watchers {
		w.send(copyEvent(ev))
	}
	return stored.DeepCopy()
}

// List implements source.ListerWatcher.
func (s *Store[T]) List(ctx context.Context) (source.ListResult[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if s.listErr != nil {
		return source.ListResult[T]{}, s.listErr
	}
	items := make([]T, 0, len(s.objects))
	for _, obj := range s.objects {
		items = append(items, obj.DeepCopy())
	}
	return source.ListResult[T]{Items: items, ResourceVersion: strconv.FormatUint(s.rv, 10)}, nil
}

// Watch implements source.ListerWatcher. Events after resourceVersion that
// are still in history are replayed first.
func (s *Store[T]) Watch(ctx context.Context, resourceVersion string) (source.Watcher[T], error) {
	from, err := strconv.ParseUint(resourceVersion, 10, 64)
	if err != nil && resourceVersion != "" {
		return nil, fmt.Errorf("invalid resource version %q: %w", resourceVersion, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if from < s.compactedRV {
		return nil, source.ErrExpired
	}

	w := newWatcher[T](s)
	for _, ev := range s.history {
		if v, _ := strconv.ParseUint(ev.ResourceVersion, 10, 64); v > from {
			w.send(copyEvent(ev))
		}
	}
	s.watchers[w] = struct{}{}
	go w.pump()
	return w, nil
}

// ExpireWatches compacts the history and ends every open watch with an
// expired error, forcing watchers to re-list.
func (s *Store[T]) ExpireWatches() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compactedRV = s.rv
	s.history = nil
	for w := range s.watchers {
		w.send(source.WatchEvent[T]{Type: source.Error, Err: source.ErrExpired})
		w.closeLocked()
	}
}

// BreakWatches closes every open watch stream cleanly.
func (s *Store[T]) BreakWatches() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for w := range s.watchers {
		w.closeLocked()
	}
}

// SetListError makes List fail with err until cleared with nil.
func (s *Store[T]) SetListError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// ListCalls returns how often List was called.
func (s *Store[T]) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// Watchers returns the number of open watch streams.
func (s *Store[T]) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func copyEvent[T resource.Object[T]](ev source.WatchEvent[T]) source.WatchEvent[T] {
	if ev.Type == source.Added || ev.Type == source.Modified || ev.Type == source.Deleted {
		ev.Object = ev.Object.DeepCopy()
	}
	return ev
}

// watcher buffers events without bound so writers never block on a slow
// consumer; pump forwards them in order.
type watcher[T resource.Object[T]] struct {
	store *Store[T]

	mu      sync.Mutex
	pending []source.WatchEvent[T]
	closing bool
	notify  chan struct{}

	result   chan source.WatchEvent[T]
	stopOnce sync.Once
	stopped  chan struct{}
}

func newWatcher[T resource.Object[T]](s *Store[T]) *watcher[T] {
	return &watcher[T]{
		store:   s,
		notify:  make(chan struct{}, 1),
		result:  make(chan source.WatchEvent[T]),
		stopped: make(chan struct{}),
	}
}

func (w *watcher[T]) send(ev source.WatchEvent[T]) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()
	w.wake()
}

// closeLocked ends the stream after pending events; store lock held.
func (w *watcher[T]) closeLocked() {
	delete(w.store.watchers, w)
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.wake()
}

func (w *watcher[T]) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher[T]) pump() {
	defer close(w.result)
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			closing := w.closing
			w.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-w.notify:
				continue
			case <-w.stopped:
				return
			}
		}
		ev := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		select {
		case w.result <- ev:
		case <-w.stopped:
			return
		}
	}
}

func (w *watcher[T]) ResultChan() <-chan source.WatchEvent[T] {
	return w.result
}

func (w *watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.store.mu.Lock()
		delete(w.store.watchers, w)
		w.store.mu.Unlock()
	})
}

// ErrPartitioned is returned by lease operations of a partitioned identity.
var ErrPartitioned = errors.New("network partition")
