package workqueue

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DelayingInterface is a queue that can schedule keys for later.
type DelayingInterface[K comparable] interface {
	Interface[K]

	// AddAfter adds key once delay has elapsed. If key is already waiting,
	// the earlier of the two deadlines is kept.
	AddAfter(key K, delay time.Duration)
}

// DelayingQueue wraps Queue with timer-driven delayed adds.
type DelayingQueue[K comparable] struct {
	*Queue[K]

	clock clock.WithDelayedExecution

	mu      sync.Mutex
	waiting map[K]*waitEntry
}

type waitEntry struct {
	readyAt time.Time
	timer   clock.Timer
}

// NewDelaying creates a delaying queue from cfg.
func NewDelaying[K comparable](cfg Config) *DelayingQueue[K] {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &DelayingQueue[K]{
		Queue:   NewWithConfig[K](cfg),
		clock:   cfg.Clock,
		waiting: make(map[K]*waitEntry),
	}
}

// AddAfter adds key after delay.
func (q *DelayingQueue[K]) AddAfter(key K, delay time.Duration) {
	if q.ShuttingDown() {
		return
	}
	if delay <= 0 {
		q.Add(key)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	readyAt := q.clock.Now().Add(delay)
	if existing, ok := q.waiting[key]; ok {
		if !readyAt.Before(existing.readyAt) {
			return
		}
		existing.timer.Stop()
	}

	entry := &waitEntry{readyAt: readyAt}
	// The callback must not touch q.mu synchronously: fake clocks fire
	// timers while holding their own lock, which AddAfter also takes.
	entry.timer = q.clock.AfterFunc(delay, func() {
		go q.fire(key, entry)
	})
	q.waiting[key] = entry
}

func (q *DelayingQueue[K]) fire(key K, entry *waitEntry) {
	q.mu.Lock()
	if q.waiting[key] != entry {
		q.mu.Unlock()
		return
	}
	delete(q.waiting, key)
	q.mu.Unlock()

	q.Add(key)
}

// Waiting returns the number of keys scheduled for later.
func (q *DelayingQueue[K]) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// ShutDown stops pending timers and the underlying queue.
func (q *DelayingQueue[K]) ShutDown() {
	q.stopTimers()
	q.Queue.ShutDown()
}

// ShutDownWithDrain stops pending timers and drains the underlying queue.
func (q *DelayingQueue[K]) ShutDownWithDrain() {
	q.stopTimers()
	q.Queue.ShutDownWithDrain()
}

func (q *DelayingQueue[K]) stopTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, entry := range q.waiting {
		entry.timer.Stop()
		delete(q.waiting, key)
	}
}
