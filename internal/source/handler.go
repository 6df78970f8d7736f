package source

import (
	"github.com/giantswarm/ctrlloop/internal/resource"
)

// ResourceEventHandler receives notifications after the cache was updated.
// Handlers run on the informer's single delivery goroutine and must not
// block.
type ResourceEventHandler[T any] interface {
	OnAdd(obj T, isInInitialList bool)
	OnUpdate(oldObj, newObj T)
	OnDelete(obj T)
}

// ResourceEventHandlerFuncs adapts plain functions to ResourceEventHandler.
// Nil functions are skipped.
type ResourceEventHandlerFuncs[T any] struct {
	AddFunc    func(obj T, isInInitialList bool)
	UpdateFunc func(oldObj, newObj T)
	DeleteFunc func(obj T)
}

func (f ResourceEventHandlerFuncs[T]) OnAdd(obj T, isInInitialList bool) {
	if f.AddFunc != nil {
		f.AddFunc(obj, isInInitialList)
	}
}

func (f ResourceEventHandlerFuncs[T]) OnUpdate(oldObj, newObj T) {
	if f.UpdateFunc != nil {
		f.UpdateFunc(oldObj, newObj)
	}
}

func (f ResourceEventHandlerFuncs[T]) OnDelete(obj T) {
	if f.DeleteFunc != nil {
		f.DeleteFunc(obj)
	}
}

// KeyAdder is the part of a work queue the EnqueueHandler needs.
type KeyAdder interface {
	Add(key resource.Key)
}

// EnqueueHandler maps every notification to the key of the object.
type EnqueueHandler[T resource.Object[T]] struct {
	Queue KeyAdder
}

func (h EnqueueHandler[T]) OnAdd(obj T, _ bool) {
	h.Queue.Add(resource.KeyOf(obj))
}

func (h EnqueueHandler[T]) OnUpdate(_, newObj T) {
	h.Queue.Add(resource.KeyOf(newObj))
}

func (h EnqueueHandler[T]) OnDelete(obj T) {
	h.Queue.Add(resource.KeyOf(obj))
}
