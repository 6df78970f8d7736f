package cache

import (
	"fmt"
	"sort"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/giantswarm/ctrlloop/internal/resource"
)

// DeltaType is the kind of mutation applied to the cache.
type DeltaType string

const (
	Added   DeltaType = "Added"
	Updated DeltaType = "Updated"
	Deleted DeltaType = "Deleted"
)

// Delta is a single notification from the event source.
type Delta[T any] struct {
	Type   DeltaType
	Object T
}

// ChangeType describes what an Apply actually did to the cache.
type ChangeType string

const (
	// ChangeNone means the delta was stale or a duplicate and was ignored.
	ChangeNone    ChangeType = "None"
	ChangeAdded   ChangeType = "Added"
	ChangeUpdated ChangeType = "Updated"
	ChangeDeleted ChangeType = "Deleted"
)

// Change reports the effect of a delta. Old and New are snapshots owned by
// the caller; for deletes New is the zero value.
type Change[T any] struct {
	Type ChangeType
	Key  resource.Key
	Old  T
	New  T
}

// IndexFunc computes the index values of an object.
type IndexFunc[T any] func(obj T) ([]string, error)

// Indexers maps index names to their functions.
type Indexers[T any] map[string]IndexFunc[T]

const (
	// NamespaceIndex indexes objects by namespace.
	NamespaceIndex = "namespace"

	// OwnerIndex indexes objects by the UID of their controller owner.
	OwnerIndex = "owner"
)

// NamespaceIndexFunc is the IndexFunc for NamespaceIndex.
func NamespaceIndexFunc[T resource.Object[T]](obj T) ([]string, error) {
	return []string{obj.GetNamespace()}, nil
}

// OwnerIndexFunc is the IndexFunc for OwnerIndex. Objects without a
// controller owner are not indexed.
func OwnerIndexFunc[T resource.Object[T]](obj T) ([]string, error) {
	owner := metav1.GetControllerOf(obj)
	if owner == nil {
		return nil, nil
	}
	return []string{string(owner.UID)}, nil
}

// DefaultIndexers returns the namespace and owner indexers.
func DefaultIndexers[T resource.Object[T]]() Indexers[T] {
	return Indexers[T]{
		NamespaceIndex: NamespaceIndexFunc[T],
		OwnerIndex:     OwnerIndexFunc[T],
	}
}

// keySet is a set of resource keys.
type keySet map[resource.Key]struct{}

// Indexer is a thread-safe local mirror of remote objects.
//
// Writes (Apply, Replace) come from a single event source and are serialized
// by the write lock; reads may run concurrently with each other and observe
// either the state before or after a write, never a partial one. Objects are
// deep copied on the way in and on the way out, so callers never hold a
// reference into the cache.
type Indexer[T resource.Object[T]] struct {
	mu sync.RWMutex

	items map[resource.Key]T

	indexers Indexers[T]

	// indices maps index name -> index value -> keys
	indices map[string]map[string]keySet

	// itemIndexValues remembers the values each item was indexed under so
	// they can be removed without re-running index functions on old state
	itemIndexValues map[resource.Key]map[string][]string

	synced                  bool
	lastSyncResourceVersion string
}

// NewIndexer creates an empty cache with the given indexers.
func NewIndexer[T resource.Object[T]](indexers Indexers[T]) *Indexer[T] {
	if indexers == nil {
		indexers = Indexers[T]{}
	}
	indices := make(map[string]map[string]keySet, len(indexers))
	for name := range indexers {
		indices[name] = make(map[string]keySet)
	}
	return &Indexer[T]{
		items:           make(map[resource.Key]T),
		indexers:        indexers,
		indices:         indices,
		itemIndexValues: make(map[resource.Key]map[string][]string),
	}
}

// Apply inserts, updates or removes one object. An add or update whose
// resource version is not newer than the cached one is a no-op, which makes
// Apply idempotent under redelivery.
func (c *Indexer[T]) Apply(d Delta[T]) (Change[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(d)
}

func (c *Indexer[T]) applyLocked(d Delta[T]) (Change[T], error) {
	key := resource.KeyOf(d.Object)

	switch d.Type {
	case Added, Updated:
		existing, exists := c.items[key]
		if exists && !resource.IsNewer(d.Object.GetResourceVersion(), existing.GetResourceVersion()) {
			return Change[T]{Type: ChangeNone, Key: key}, nil
		}

		values, err := c.indexValues(d.Object)
		if err != nil {
			return Change[T]{Type: ChangeNone, Key: key}, fmt.Errorf("failed to index %s: %w", key, err)
		}

		stored := d.Object.DeepCopy()
		c.unindexLocked(key)
		c.items[key] = stored
		c.indexLocked(key, values)

		change := Change[T]{Type: ChangeAdded, Key: key, New: stored.DeepCopy()}
		if exists {
			change.Type = ChangeUpdated
			change.Old = existing
		}
		return change, nil

	case Deleted:
		existing, exists := c.items[key]
		if !exists {
			return Change[T]{Type: ChangeNone, Key: key}, nil
		}
		c.unindexLocked(key)
		delete(c.items, key)
		return Change[T]{Type: ChangeDeleted, Key: key, Old: existing}, nil

	default:
		return Change[T]{Type: ChangeNone, Key: key}, fmt.Errorf("unknown delta type %q", d.Type)
	}
}

// Replace swaps the cache contents for the result of a full list. Objects
// that are new or changed are reported as adds/updates, cached objects
// missing from the list are removed and reported as deletes. The first
// Replace marks the cache as synced.
func (c *Indexer[T]) Replace(items []T, resourceVersion string) ([]Change[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// validate every item up front so a bad list never half-applies
	seen := make(keySet, len(items))
	for _, item := range items {
		if _, err := c.indexValues(item); err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", resource.KeyOf(item), err)
		}
		seen[resource.KeyOf(item)] = struct{}{}
	}

	var changes []Change[T]
	for _, key := range c.sortedKeysLocked() {
		if _, ok := seen[key]; ok {
			continue
		}
		change, err := c.applyLocked(Delta[T]{Type: Deleted, Object: c.items[key]})
		if err != nil {
			return changes, err
		}
		changes = append(changes, change)
	}

	for _, item := range items {
		change, err := c.applyLocked(Delta[T]{Type: Updated, Object: item})
		if err != nil {
			return changes, err
		}
		if change.Type != ChangeNone {
			changes = append(changes, change)
		}
	}

	c.synced = true
	c.lastSyncResourceVersion = resourceVersion
	return changes, nil
}

// Get returns a snapshot of the object stored under key.
func (c *Indexer[T]) Get(key resource.Key) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	return obj.DeepCopy(), true
}

// List returns snapshots of all objects in namespace, or of every object
// when namespace is empty. Results are sorted by key.
func (c *Indexer[T]) List(namespace string) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.items))
	for _, key := range c.sortedKeysLocked() {
		if namespace != "" && key.Namespace != namespace {
			continue
		}
		out = append(out, c.items[key].DeepCopy())
	}
	return out
}

// ListKeys returns all cached keys, sorted.
func (c *Indexer[T]) ListKeys() []resource.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedKeysLocked()
}

// Len returns the number of cached objects.
func (c *Indexer[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// IndexKeys returns the keys indexed under value in the named index.
func (c *Indexer[T]) IndexKeys(indexName, value string) ([]resource.Key, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, ok := c.indices[indexName]
	if !ok {
		return nil, fmt.Errorf("index %q does not exist", indexName)
	}
	keys := make([]resource.Key, 0, len(index[value]))
	for key := range index[value] {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

// ByIndex returns snapshots of the objects indexed under value.
func (c *Indexer[T]) ByIndex(indexName, value string) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, ok := c.indices[indexName]
	if !ok {
		return nil, fmt.Errorf("index %q does not exist", indexName)
	}
	keys := make([]resource.Key, 0, len(index[value]))
	for key := range index[value] {
		keys = append(keys, key)
	}
	sortKeys(keys)

	out := make([]T, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.items[key].DeepCopy())
	}
	return out, nil
}

// HasSynced reports whether the initial list has been fully applied.
func (c *Indexer[T]) HasSynced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// LastSyncResourceVersion is the resource version of the last Replace.
func (c *Indexer[T]) LastSyncResourceVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSyncResourceVersion
}

func (c *Indexer[T]) indexValues(obj T) (map[string][]string, error) {
	values := make(map[string][]string, len(c.indexers))
	for name, fn := range c.indexers {
		v, err := fn(obj)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

func (c *Indexer[T]) indexLocked(key resource.Key, values map[string][]string) {
	for name, vals := range values {
		index := c.indices[name]
		for _, v := range vals {
			set, ok := index[v]
			if !ok {
				set = make(keySet)
				index[v] = set
			}
			set[key] = struct{}{}
		}
	}
	c.itemIndexValues[key] = values
}

func (c *Indexer[T]) unindexLocked(key resource.Key) {
	values, ok := c.itemIndexValues[key]
	if !ok {
		return
	}
	for name, vals := range values {
		index := c.indices[name]
		for _, v := range vals {
			set := index[v]
			delete(set, key)
			if len(set) == 0 {
				delete(index, v)
			}
		}
	}
	delete(c.itemIndexValues, key)
}

func (c *Indexer[T]) sortedKeysLocked() []resource.Key {
	keys := make([]resource.Key, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []resource.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].Name < keys[j].Name
	})
}
