package filesystem

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// watcher follows the history of a Source from its cursor and triggers
// rescans on file events.
type watcher struct {
	source *Source
	fsw    *fsnotify.Watcher
	cursor uint64

	notify chan struct{}
	out    chan source.WatchEvent[Object]

	stopOnce sync.Once
	stopped  chan struct{}
}

func (w *watcher) ResultChan() <-chan source.WatchEvent[Object] {
	return w.out
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
}

func (w *watcher) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)
	defer w.source.removeWatcher(w)
	defer func() {
		if err := w.fsw.Close(); err != nil {
			logging.Warn(subsystem, "Error closing file watcher: %v", err)
		}
	}()

	debounce := time.NewTimer(w.source.debounce)
	debounce.Stop()
	defer debounce.Stop()

	// catch up with changes made between the list and the watch
	if err := w.source.rescan(); err != nil {
		w.send(ctx, source.WatchEvent[Object]{Type: source.Error, Err: err})
		return
	}

	for {
		events, expired := w.source.eventsSince(w.cursor)
		if expired {
			w.send(ctx, source.WatchEvent[Object]{Type: source.Error, Err: source.ErrExpired})
			return
		}
		for _, ev := range events {
			if !w.send(ctx, ev) {
				return
			}
			w.cursor, _ = strconv.ParseUint(ev.ResourceVersion, 10, 64)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case <-w.notify:

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if isYAMLFile(ev.Name) {
				debounce.Reset(w.source.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error(subsystem, err, "File watcher error")
			w.send(ctx, source.WatchEvent[Object]{Type: source.Error, Err: err})
			return

		case <-debounce.C:
			if err := w.source.rescan(); err != nil {
				w.send(ctx, source.WatchEvent[Object]{Type: source.Error, Err: err})
				return
			}
		}
	}
}

func (w *watcher) send(ctx context.Context, ev source.WatchEvent[Object]) bool {
	select {
	case w.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopped:
		return false
	}
}
