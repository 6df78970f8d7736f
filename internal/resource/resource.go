// Package resource defines the identity and shape of the objects handled by
// the cache, the work queue and the controllers.
package resource

import (
	"fmt"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Key identifies a watched object by namespace and name. Cluster scoped
// objects have an empty namespace.
type Key types.NamespacedName

// NewKey returns the key for namespace/name.
func NewKey(namespace, name string) Key {
	return Key{Namespace: namespace, Name: name}
}

// String renders the key as "namespace/name", or "name" when cluster scoped.
func (k Key) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}

// NamespacedName converts the key to the apimachinery type.
func (k Key) NamespacedName() types.NamespacedName {
	return types.NamespacedName(k)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return Key{}, fmt.Errorf("empty key")
		}
		return Key{Name: parts[0]}, nil
	case 2:
		if parts[1] == "" {
			return Key{}, fmt.Errorf("key %q has an empty name", s)
		}
		return Key{Namespace: parts[0], Name: parts[1]}, nil
	default:
		return Key{}, fmt.Errorf("unexpected key format %q", s)
	}
}

// Object is the constraint every cached type satisfies: standard object
// metadata plus a typed deep copy. Kubernetes typed objects and
// *unstructured.Unstructured satisfy it as-is.
type Object[T any] interface {
	metav1.Object
	DeepCopy() T
}

// KeyOf returns the key of obj.
func KeyOf(obj metav1.Object) Key {
	return Key{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// IsNewer reports whether the candidate resource version supersedes the
// current one. Numeric versions are compared numerically. Opaque versions
// can only be compared for equality, so any difference counts as newer.
// An empty version on either side is never considered stale.
func IsNewer(candidate, current string) bool {
	if candidate == "" || current == "" {
		return true
	}
	c, cerr := strconv.ParseUint(candidate, 10, 64)
	o, oerr := strconv.ParseUint(current, 10, 64)
	if cerr == nil && oerr == nil {
		return c > o
	}
	return candidate != current
}
