package cache

import (
	"github.com/giantswarm/ctrlloop/internal/resource"
)

// Reader is the read-only view of a cache handed to controllers and
// reconcilers.
type Reader[T any] interface {
	Get(key resource.Key) (T, bool)
	List(namespace string) []T
}

// Lister reads objects from an Indexer.
type Lister[T resource.Object[T]] struct {
	indexer *Indexer[T]
}

// NewLister returns a Lister over indexer.
func NewLister[T resource.Object[T]](indexer *Indexer[T]) *Lister[T] {
	return &Lister[T]{indexer: indexer}
}

// Get returns a snapshot of the object stored under key.
func (l *Lister[T]) Get(key resource.Key) (T, bool) {
	return l.indexer.Get(key)
}

// List returns snapshots of all objects in namespace ("" for all).
func (l *Lister[T]) List(namespace string) []T {
	return l.indexer.List(namespace)
}

// Namespace returns a lister scoped to one namespace.
func (l *Lister[T]) Namespace(namespace string) *NamespaceLister[T] {
	return &NamespaceLister[T]{indexer: l.indexer, namespace: namespace}
}

// NamespaceLister reads objects of a single namespace.
type NamespaceLister[T resource.Object[T]] struct {
	indexer   *Indexer[T]
	namespace string
}

// Get returns the object called name in the lister's namespace.
func (l *NamespaceLister[T]) Get(name string) (T, bool) {
	return l.indexer.Get(resource.NewKey(l.namespace, name))
}

// List returns every object in the lister's namespace. A lister for the
// empty namespace lists cluster-scoped objects, matching Get.
func (l *NamespaceLister[T]) List() []T {
	if l.namespace != "" {
		return l.indexer.List(l.namespace)
	}
	var out []T
	for _, obj := range l.indexer.List("") {
		if obj.GetNamespace() == "" {
			out = append(out, obj)
		}
	}
	return out
}
