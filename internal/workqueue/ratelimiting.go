package workqueue

// RateLimitingInterface is the queue the controller loop works against.
type RateLimitingInterface[K comparable] interface {
	DelayingInterface[K]

	// AddRateLimited adds key after the rate limiter says it is ok.
	AddRateLimited(key K)

	// Forget tells the rate limiter key is done being retried.
	Forget(key K)

	// NumRequeues returns the retry count of key.
	NumRequeues(key K) int
}

// RateLimitingQueue is a DelayingQueue with retry accounting.
type RateLimitingQueue[K comparable] struct {
	*DelayingQueue[K]

	rateLimiter RateLimiter[K]
}

// NewRateLimiting creates a rate limited queue. A nil limiter uses
// DefaultControllerRateLimiter.
func NewRateLimiting[K comparable](limiter RateLimiter[K], cfg Config) *RateLimitingQueue[K] {
	if limiter == nil {
		limiter = DefaultControllerRateLimiter[K]()
	}
	return &RateLimitingQueue[K]{
		DelayingQueue: NewDelaying[K](cfg),
		rateLimiter:   limiter,
	}
}

func (q *RateLimitingQueue[K]) AddRateLimited(key K) {
	if q.ShuttingDown() {
		return
	}
	q.metrics.retry()
	q.AddAfter(key, q.rateLimiter.When(key))
}

func (q *RateLimitingQueue[K]) Forget(key K) {
	q.rateLimiter.Forget(key)
}

func (q *RateLimitingQueue[K]) NumRequeues(key K) int {
	return q.rateLimiter.NumRequeues(key)
}
