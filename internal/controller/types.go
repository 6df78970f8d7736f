package controller

import (
	"context"
	"time"

	"github.com/giantswarm/ctrlloop/internal/resource"
)

// Request asks a Reconciler to converge one object.
type Request[T any] struct {
	Key resource.Key

	// Object is a snapshot from the cache; the zero value when Absent.
	Object T

	found bool
}

// NewRequest returns a request for an object present in the cache.
func NewRequest[T any](key resource.Key, obj T) Request[T] {
	return Request[T]{Key: key, Object: obj, found: true}
}

// AbsentRequest returns a request for a key missing from the cache.
func AbsentRequest[T any](key resource.Key) Request[T] {
	return Request[T]{Key: key}
}

// Absent reports whether the object was not in the cache, which means it
// was deleted.
func (r Request[T]) Absent() bool {
	return !r.found
}

// Result tells the controller what to do with the key after a successful
// reconcile.
type Result struct {
	// Requeue retries the key through the rate limiter.
	Requeue bool

	// RequeueAfter retries the key after a fixed delay. It takes precedence
	// over Requeue.
	RequeueAfter time.Duration
}

// IsZero reports whether r asks for no follow-up.
func (r Result) IsZero() bool {
	return !r.Requeue && r.RequeueAfter == 0
}

// Reconciler converges the real world toward the state declared by one
// object. Implementations must be idempotent.
type Reconciler[T any] interface {
	Reconcile(ctx context.Context, req Request[T]) (Result, error)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc[T any] func(ctx context.Context, req Request[T]) (Result, error)

func (f ReconcilerFunc[T]) Reconcile(ctx context.Context, req Request[T]) (Result, error) {
	return f(ctx, req)
}

// State is the lifecycle position of a controller.
type State string

const (
	StateStopped        State = "Stopped"
	StateWaitingForSync State = "WaitingForSync"
	StateIdle           State = "Idle"
	StateProcessing     State = "Processing"
	StateShuttingDown   State = "ShuttingDown"
)

// ReconcileState is the per-key reconciliation status.
type ReconcileState string

const (
	// StatusPending means the key is queued.
	StatusPending ReconcileState = "Pending"

	// StatusReconciling means a worker is reconciling the key.
	StatusReconciling ReconcileState = "Reconciling"

	// StatusSynced means the last reconcile succeeded.
	StatusSynced ReconcileState = "Synced"

	// StatusError means the last reconcile failed and a retry is scheduled.
	StatusError ReconcileState = "Error"
)

// Status tracks the reconciliation of one key.
type Status struct {
	Key resource.Key

	State ReconcileState

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of consecutive failures.
	RetryCount int

	// LastReconcileTime is when the key was last reconciled successfully.
	LastReconcileTime *time.Time
}
