// Package controller implements the reconcile loop.
//
// A Controller waits until its caches report synced, enqueues every cached
// key once, and then runs a pool of workers. Each worker takes a key from
// the queue, reads a snapshot of the object from the cache and calls the
// Reconciler. A cache miss is passed on as an absent object, which is how
// reconcilers observe deletes.
//
// Outcomes:
//   - success: the key's retry history is forgotten
//   - RequeueAfter: the key is re-added after the given delay
//   - Requeue: the key is re-added through the rate limiter
//   - error or panic: the key is re-added through the rate limiter and the
//     error is logged; other keys are unaffected
//
// Cancelling the run context stops new dequeues and cancels the contexts of
// in-flight reconciles; Run returns once they have finished.
package controller
