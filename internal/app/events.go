package app

import (
	"context"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/giantswarm/ctrlloop/internal/config"
	"github.com/giantswarm/ctrlloop/internal/controller"
	"github.com/giantswarm/ctrlloop/internal/events"
	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/internal/resource"
)

// eventingReconciler records an event for every failed reconcile and one
// when a failing key recovers.
type eventingReconciler struct {
	next   controller.Reconciler[Object]
	events *events.EventGenerator
	gvk    schema.GroupVersionKind

	mu       sync.Mutex
	failures map[resource.Key]int
}

func newEventingReconciler(next controller.Reconciler[Object], generator *events.EventGenerator, gvk schema.GroupVersionKind) *eventingReconciler {
	return &eventingReconciler{
		next:     next,
		events:   generator,
		gvk:      gvk,
		failures: make(map[resource.Key]int),
	}
}

func (r *eventingReconciler) Reconcile(ctx context.Context, req controller.Request[Object]) (controller.Result, error) {
	result, err := r.next.Reconcile(ctx, req)

	r.mu.Lock()
	failures := r.failures[req.Key]
	if err != nil {
		failures++
		r.failures[req.Key] = failures
	} else {
		delete(r.failures, req.Key)
	}
	r.mu.Unlock()

	switch {
	case err != nil:
		r.events.ReconcileFailed(ctx, r.reference(req), err, failures)
	case failures > 0:
		r.events.ReconcileRecovered(ctx, r.reference(req), failures)
	}
	return result, err
}

func (r *eventingReconciler) reference(req controller.Request[Object]) events.ObjectReference {
	ref := events.ObjectReference{
		APIVersion: r.gvk.GroupVersion().String(),
		Kind:       r.gvk.Kind,
		Name:       req.Key.Name,
		Namespace:  req.Key.Namespace,
	}
	if !req.Absent() && req.Object != nil {
		ref.UID = string(req.Object.GetUID())
	}
	return ref
}

// leaseEvents turns leadership transitions into events on the lease.
type leaseEvents struct {
	events   *events.EventGenerator
	ref      events.ObjectReference
	identity string

	mu      sync.Mutex
	started time.Time
}

func newLeaseEvents(generator *events.EventGenerator, cfg config.LeaderElectionConfig, identity string) *leaseEvents {
	return &leaseEvents{
		events: generator,
		ref: events.ObjectReference{
			APIVersion: coordinationv1.SchemeGroupVersion.String(),
			Kind:       "Lease",
			Name:       cfg.LockName,
			Namespace:  cfg.LockNamespace,
		},
		identity: identity,
	}
}

func (l *leaseEvents) callbacks() leaderelection.Callbacks {
	return leaderelection.Callbacks{
		OnStartedLeading: l.startedLeading,
		OnStoppedLeading: l.stoppedLeading,
	}
}

func (l *leaseEvents) startedLeading(ctx context.Context) {
	l.mu.Lock()
	l.started = time.Now()
	l.mu.Unlock()
	l.events.LeaderElected(ctx, l.ref, l.identity)
}

func (l *leaseEvents) stoppedLeading() {
	l.mu.Lock()
	held := time.Since(l.started)
	l.mu.Unlock()
	l.events.LeaderLost(context.Background(), l.ref, l.identity, held.Round(time.Second))
}
