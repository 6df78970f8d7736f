package controller

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
	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/internal/workqueue"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const subsystem = "Controller"

// Options configures a Controller.
type Options[T resource.Object[T]] struct {
	// Name identifies the controller in logs, metrics and the manager.
	Name string

	Reconciler Reconciler[T]

	// Reader resolves keys to objects. Watch sets it to the informer's
	// cache when left nil.
	Reader cache.Reader[T]

	// Workers is the number of concurrent reconciles. Defaults to 1.
	Workers int

	// ReadyFuncs must all return true before the first reconcile.
	ReadyFuncs []func() bool

	// ReconcileTimeout bounds each reconcile call. Defaults to 30s.
	ReconcileTimeout time.Duration

	// NewRateLimiter builds the retry limiter for each run. Defaults to
	// workqueue.DefaultControllerRateLimiter.
	NewRateLimiter func() workqueue.RateLimiter[resource.Key]

	// SyncPollInterval is how often ReadyFuncs are polled. Defaults to 100ms.
	SyncPollInterval time.Duration

	Clock clock.WithDelayedExecution
}

// Controller pulls keys from a work queue, resolves them through the cache
// and hands them to a Reconciler.
type Controller[T resource.Object[T]] struct {
	name             string
	reconciler       Reconciler[T]
	workers          int
	timeout          time.Duration
	newRateLimiter   func() workqueue.RateLimiter[resource.Key]
	syncPollInterval time.Duration
	clock            clock.WithDelayedExecution

	mu         sync.RWMutex
	reader     cache.Reader[T]
	readyFuncs []func() bool
	queue      workqueue.RateLimitingInterface[resource.Key]
	running    bool
	state      State
	statuses   map[resource.Key]*Status

	active atomic.Int32
}

// New creates a controller from opts.
func New[T resource.Object[T]](opts Options[T]) (*Controller[T], error) {
	if opts.Name == "" {
		return nil, errors.New("controller name must not be empty")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("controller %s: reconciler must not be nil", opts.Name)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 30 * time.Second
	}
	if opts.NewRateLimiter == nil {
		opts.NewRateLimiter = workqueue.DefaultControllerRateLimiter[resource.Key]
	}
	if opts.SyncPollInterval <= 0 {
		opts.SyncPollInterval = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	return &Controller[T]{
		name:             opts.Name,
		reconciler:       opts.Reconciler,
		workers:          opts.Workers,
		timeout:          opts.ReconcileTimeout,
		newRateLimiter:   opts.NewRateLimiter,
		syncPollInterval: opts.SyncPollInterval,
		clock:            opts.Clock,
		reader:           opts.Reader,
		readyFuncs:       append([]func() bool(nil), opts.ReadyFuncs...),
		state:            StateStopped,
		statuses:         make(map[resource.Key]*Status),
	}, nil
}

// Name returns the controller name.
func (c *Controller[T]) Name() string {
	return c.name
}

// Watch enqueues every notification of informer and gates the first
// reconcile on its sync.
func (c *Controller[T]) Watch(informer *source.Informer[T]) {
	c.mu.Lock()
	if c.reader == nil {
		c.reader = informer.Lister()
	}
	c.readyFuncs = append(c.readyFuncs, informer.HasSynced)
	c.mu.Unlock()

	informer.AddEventHandler(source.EnqueueHandler[T]{Queue: c})
}

// Add enqueues key. Keys added while the controller is not running are
// dropped; every cached key is enqueued when a run starts.
func (c *Controller[T]) Add(key resource.Key) {
	c.mu.Lock()
	queue := c.queue
	if queue != nil {
		if _, ok := c.statuses[key]; !ok {
			c.statuses[key] = &Status{Key: key, State: StatusPending}
		}
	}
	c.mu.Unlock()

	if queue != nil {
		queue.Add(key)
	}
}

// Ready reports whether every ready func returns true.
func (c *Controller[T]) Ready() bool {
	c.mu.RLock()
	funcs := c.readyFuncs
	c.mu.RUnlock()

	for _, f := range funcs {
		if !f() {
			return false
		}
	}
	return true
}

// Run waits for the caches to sync, then reconciles with the configured
// number of workers until ctx is cancelled. In-flight reconciles finish
// before Run returns. Run may be called again after it returned.
func (c *Controller[T]) Run(ctx context.Context) error {
	queue := workqueue.NewRateLimiting[resource.Key](c.newRateLimiter(), workqueue.Config{
		Name:  c.name,
		Clock: c.clock,
	})

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("controller %s is already running", c.name)
	}
	if c.reader == nil {
		c.mu.Unlock()
		return fmt.Errorf("controller %s has no reader; call Watch or set Options.Reader", c.name)
	}
	c.queue = queue
	c.running = true
	c.state = StateWaitingForSync
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.queue = nil
		c.running = false
		c.state = StateStopped
		c.mu.Unlock()
	}()

	logging.Info(subsystem, "Starting controller %s, waiting for caches to sync", c.name)

	err := wait.PollUntilContextCancel(ctx, c.syncPollInterval, true, func(context.Context) (bool, error) {
		return c.Ready(), nil
	})
	if err != nil {
		queue.ShutDown()
		logging.Info(subsystem, "Controller %s stopped before caches synced", c.name)
		return nil
	}

	c.mu.RLock()
	reader := c.reader
	c.mu.RUnlock()
	for _, obj := range reader.List("") {
		c.Add(resource.KeyOf(obj))
	}

	c.setState(StateIdle)
	logging.Info(subsystem, "Controller %s synced, starting %d workers", c.name, c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, queue, reader, id)
		}(i)
	}

	<-ctx.Done()
	c.setState(StateShuttingDown)
	logging.Info(subsystem, "Shutting down controller %s", c.name)

	queue.ShutDownWithDrain()
	wg.Wait()

	logging.Info(subsystem, "Controller %s stopped", c.name)
	return nil
}

// worker processes keys until the queue shuts down.
func (c *Controller[T]) worker(ctx context.Context, queue workqueue.RateLimitingInterface[resource.Key], reader cache.Reader[T], id int) {
	logging.Debug(subsystem, "Controller %s worker %d started", c.name, id)
	activeWorkers.WithLabelValues(c.name).Inc()
	defer activeWorkers.WithLabelValues(c.name).Dec()

	for c.processNextWorkItem(ctx, queue, reader) {
	}

	logging.Debug(subsystem, "Controller %s worker %d shutting down", c.name, id)
}

func (c *Controller[T]) processNextWorkItem(ctx context.Context, queue workqueue.RateLimitingInterface[resource.Key], reader cache.Reader[T]) bool {
	key, shutdown := queue.Get()
	if shutdown {
		return false
	}
	defer queue.Done(key)

	c.active.Add(1)
	defer c.active.Add(-1)

	c.reconcileHandler(ctx, queue, reader, key)
	return true
}

func (c *Controller[T]) reconcileHandler(ctx context.Context, queue workqueue.RateLimitingInterface[resource.Key], reader cache.Reader[T], key resource.Key) {
	req := AbsentRequest[T](key)
	if obj, ok := reader.Get(key); ok {
		req = NewRequest(key, obj)
	}

	c.updateStatus(key, StatusReconciling, "")
	logging.Debug(subsystem, "Controller %s reconciling %s (absent=%t, retries=%d)", c.name, key, req.Absent(), queue.NumRequeues(key))

	start := c.clock.Now()
	result, err := c.reconcile(ctx, req)
	reconcileTime.WithLabelValues(c.name).Observe(c.clock.Since(start).Seconds())

	switch {
	case err != nil:
		if ctx.Err() != nil {
			// stopped mid-reconcile; the next run re-enqueues every cached key
			logging.Debug(subsystem, "Controller %s abandoned %s on shutdown: %v", c.name, key, err)
			c.updateStatus(key, StatusPending, "")
			return
		}
		queue.AddRateLimited(key)
		reconcileTotal.WithLabelValues(c.name, labelError).Inc()
		reconcileErrors.WithLabelValues(c.name).Inc()
		c.updateStatus(key, StatusError, err.Error())
		logging.Error(subsystem, err, "Controller %s failed to reconcile %s", c.name, key)

	case result.RequeueAfter > 0:
		queue.Forget(key)
		queue.AddAfter(key, result.RequeueAfter)
		reconcileTotal.WithLabelValues(c.name, labelRequeueAfter).Inc()
		c.updateStatus(key, StatusSynced, "")
		logging.Debug(subsystem, "Controller %s requeuing %s after %v", c.name, key, result.RequeueAfter)

	case result.Requeue:
		queue.AddRateLimited(key)
		reconcileTotal.WithLabelValues(c.name, labelRequeue).Inc()
		c.updateStatus(key, StatusSynced, "")

	default:
		queue.Forget(key)
		reconcileTotal.WithLabelValues(c.name, labelSuccess).Inc()
		if req.Absent() {
			c.deleteStatus(key)
		} else {
			c.updateStatus(key, StatusSynced, "")
		}
		logging.Debug(subsystem, "Controller %s successfully reconciled %s", c.name, key)
	}
}

// reconcile calls the reconciler with a bounded context, turning panics
// and timeouts into errors.
func (c *Controller[T]) reconcile(ctx context.Context, req Request[T]) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			reconcilePanics.WithLabelValues(c.name).Inc()
			result = Result{}
			err = fmt.Errorf("panic in reconciler: %v [recovered]", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err = c.reconciler.Reconcile(ctx, req)

	// Check if the context was cancelled due to timeout
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("reconcile of %s timed out after %v", req.Key, c.timeout)
	}
	return result, err
}

func (c *Controller[T]) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the lifecycle state. Idle becomes Processing while at
// least one reconcile is in flight.
func (c *Controller[T]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateIdle && c.active.Load() > 0 {
		return StateProcessing
	}
	return c.state
}

// QueueLen returns the number of pending keys, or 0 when not running.
func (c *Controller[T]) QueueLen() int {
	c.mu.RLock()
	queue := c.queue
	c.mu.RUnlock()
	if queue == nil {
		return 0
	}
	return queue.Len()
}

func (c *Controller[T]) updateStatus(key resource.Key, state ReconcileState, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[key]
	if !ok {
		status = &Status{Key: key}
		c.statuses[key] = status
	}

	status.State = state
	status.LastError = errMsg

	switch state {
	case StatusSynced:
		now := c.clock.Now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StatusError:
		status.RetryCount++
	}
}

func (c *Controller[T]) deleteStatus(key resource.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, key)
}

// Status returns the reconciliation status of key.
func (c *Controller[T]) Status(key resource.Key) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.statuses[key]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Statuses returns the status of every tracked key.
func (c *Controller[T]) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.statuses))
	for _, status := range c.statuses {
		out = append(out, *status)
	}
	return out
}
