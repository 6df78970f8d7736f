package workqueue

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides how long a key waits before its next retry.
type RateLimiter[K comparable] interface {
	// When returns the delay for the next retry of key and records the
	// attempt.
	When(key K) time.Duration

	// Forget clears the retry history of key.
	Forget(key K)

	// NumRequeues returns how many retries key has had since the last
	// Forget.
	NumRequeues(key K) int
}

// Backoff defaults used by DefaultControllerRateLimiter.
const (
	DefaultBaseDelay = 5 * time.Millisecond
	DefaultMaxDelay  = 1000 * time.Second
	DefaultQPS       = 10
	DefaultBurst     = 100
)

// ExponentialFailureRateLimiter waits base*2^failures per key, capped at max.
type ExponentialFailureRateLimiter[K comparable] struct {
	mu       sync.Mutex
	failures map[K]int

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialFailureRateLimiter creates a per-key exponential limiter.
func NewExponentialFailureRateLimiter[K comparable](baseDelay, maxDelay time.Duration) *ExponentialFailureRateLimiter[K] {
	return &ExponentialFailureRateLimiter[K]{
		failures:  make(map[K]int),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

func (r *ExponentialFailureRateLimiter[K]) When(key K) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp := r.failures[key]
	r.failures[key] = exp + 1

	backoff := float64(r.baseDelay.Nanoseconds()) * math.Pow(2, float64(exp))
	if backoff > float64(r.maxDelay.Nanoseconds()) || math.IsInf(backoff, 0) {
		return r.maxDelay
	}
	return time.Duration(backoff)
}

func (r *ExponentialFailureRateLimiter[K]) Forget(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key)
}

func (r *ExponentialFailureRateLimiter[K]) NumRequeues(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[key]
}

// BucketRateLimiter applies one token bucket across all keys.
type BucketRateLimiter[K comparable] struct {
	Limiter *rate.Limiter
}

// NewBucketRateLimiter creates an overall limiter of qps with burst.
func NewBucketRateLimiter[K comparable](qps float64, burst int) *BucketRateLimiter[K] {
	return &BucketRateLimiter[K]{Limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (r *BucketRateLimiter[K]) When(K) time.Duration {
	return r.Limiter.Reserve().Delay()
}

func (r *BucketRateLimiter[K]) Forget(K) {}

func (r *BucketRateLimiter[K]) NumRequeues(K) int { return 0 }

// MaxOfRateLimiter returns the longest delay of its limiters.
type MaxOfRateLimiter[K comparable] struct {
	limiters []RateLimiter[K]
}

// NewMaxOfRateLimiter combines limiters.
func NewMaxOfRateLimiter[K comparable](limiters ...RateLimiter[K]) *MaxOfRateLimiter[K] {
	return &MaxOfRateLimiter[K]{limiters: limiters}
}

func (r *MaxOfRateLimiter[K]) When(key K) time.Duration {
	var longest time.Duration
	for _, l := range r.limiters {
		if d := l.When(key); d > longest {
			longest = d
		}
	}
	return longest
}

func (r *MaxOfRateLimiter[K]) Forget(key K) {
	for _, l := range r.limiters {
		l.Forget(key)
	}
}

func (r *MaxOfRateLimiter[K]) NumRequeues(key K) int {
	var most int
	for _, l := range r.limiters {
		if n := l.NumRequeues(key); n > most {
			most = n
		}
	}
	return most
}

// NewControllerRateLimiter combines per-key exponential backoff with an
// overall token bucket.
func NewControllerRateLimiter[K comparable](baseDelay, maxDelay time.Duration, qps float64, burst int) RateLimiter[K] {
	return NewMaxOfRateLimiter[K](
		NewExponentialFailureRateLimiter[K](baseDelay, maxDelay),
		NewBucketRateLimiter[K](qps, burst),
	)
}

// DefaultControllerRateLimiter uses the package defaults.
func DefaultControllerRateLimiter[K comparable]() RateLimiter[K] {
	return NewControllerRateLimiter[K](DefaultBaseDelay, DefaultMaxDelay, DefaultQPS, DefaultBurst)
}
