package workqueue

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Interface is the basic deduplicating work queue.
type Interface[K comparable] interface {
	// Add queues key unless it is already pending. A key that is currently
	// being processed is marked dirty and re-queued when Done is called.
	Add(key K)

	// Get blocks until a key is available or the queue shuts down. The
	// returned key is marked as processing until Done is called.
	Get() (key K, shutdown bool)

	// Done marks key as processed.
	Done(key K)

	// Len returns the number of pending keys.
	Len() int

	// ShutDown stops the queue: Add becomes a no-op and Get returns
	// immediately with shutdown=true, even if keys are still pending.
	ShutDown()

	// ShutDownWithDrain is ShutDown followed by waiting until every key
	// handed out by Get has been marked Done.
	ShutDownWithDrain()

	// ShuttingDown reports whether ShutDown was called.
	ShuttingDown() bool
}

// Config configures a queue.
type Config struct {
	// Name labels the queue's metrics. Empty disables metrics.
	Name string

	// Clock is used for delayed adds and latency metrics.
	// Defaults to the real clock.
	Clock clock.WithDelayedExecution
}

// Queue implements Interface.
type Queue[K comparable] struct {
	mu sync.Mutex

	// cond is used for blocking Get operations and drain waits
	cond *sync.Cond

	// queue holds pending keys in FIFO order
	queue []K

	// pending tracks keys currently in queue
	pending map[K]struct{}

	// processing tracks keys handed out by Get and not yet Done
	processing map[K]struct{}

	// dirty tracks keys added while they were processing
	dirty map[K]struct{}

	// shuttingDown indicates the queue is stopping
	shuttingDown bool

	clock   clock.PassiveClock
	metrics *queueMetrics

	addedAt   map[K]time.Time
	startedAt map[K]time.Time
}

// New creates an unnamed queue without metrics.
func New[K comparable]() *Queue[K] {
	return NewWithConfig[K](Config{})
}

// NewWithConfig creates a queue from cfg.
func NewWithConfig[K comparable](cfg Config) *Queue[K] {
	var c clock.PassiveClock = clock.RealClock{}
	if cfg.Clock != nil {
		c = cfg.Clock
	}
	q := &Queue[K]{
		queue:      make([]K, 0),
		pending:    make(map[K]struct{}),
		processing: make(map[K]struct{}),
		dirty:      make(map[K]struct{}),
		clock:      c,
		metrics:    newQueueMetrics(cfg.Name),
		addedAt:    make(map[K]time.Time),
		startedAt:  make(map[K]time.Time),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add adds key to the queue.
func (q *Queue[K]) Add(key K) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	// If already being processed, mark as dirty for reprocessing
	if _, ok := q.processing[key]; ok {
		q.dirty[key] = struct{}{}
		return
	}

	if _, ok := q.pending[key]; ok {
		return
	}

	q.pushLocked(key)
}

func (q *Queue[K]) pushLocked(key K) {
	q.pending[key] = struct{}{}
	q.queue = append(q.queue, key)
	q.addedAt[key] = q.clock.Now()
	q.metrics.add()
	q.cond.Signal()
}

// Get retrieves the next key, blocking if necessary.
func (q *Queue[K]) Get() (K, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		q.cond.Wait()
	}

	if q.shuttingDown {
		var zero K
		return zero, true
	}

	key := q.queue[0]
	var zero K
	q.queue[0] = zero
	q.queue = q.queue[1:]

	delete(q.pending, key)
	q.processing[key] = struct{}{}

	now := q.clock.Now()
	q.metrics.get(now.Sub(q.addedAt[key]))
	delete(q.addedAt, key)
	q.startedAt[key] = now

	return key, false
}

// Done marks key as completed.
func (q *Queue[K]) Done(key K) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.processing[key]; !ok {
		return
	}
	delete(q.processing, key)
	q.metrics.done(q.clock.Now().Sub(q.startedAt[key]))
	delete(q.startedAt, key)

	// Check if marked dirty during processing
	if _, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		if !q.shuttingDown {
			q.pushLocked(key)
		}
	}

	if q.shuttingDown && len(q.processing) == 0 {
		q.cond.Broadcast()
	}
}

// Len returns the number of pending keys.
func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Processing returns the number of keys handed out and not yet Done.
func (q *Queue[K]) Processing() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// ShutDown stops the queue.
func (q *Queue[K]) ShutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutDownLocked()
}

func (q *Queue[K]) shutDownLocked() {
	if q.shuttingDown {
		return
	}
	q.shuttingDown = true
	q.metrics.discard(len(q.queue))
	q.queue = nil
	q.pending = make(map[K]struct{})
	q.addedAt = make(map[K]time.Time)
	q.cond.Broadcast()
}

// ShutDownWithDrain stops the queue and waits for in-flight keys.
func (q *Queue[K]) ShutDownWithDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shutDownLocked()
	for len(q.processing) > 0 {
		q.cond.Wait()
	}
}

// ShuttingDown reports whether the queue is stopping.
func (q *Queue[K]) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}
