// Package fixtures provides typed test objects shared by package tests.
package fixtures

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// DatabaseSpec is the desired state of a Database.
type DatabaseSpec struct {
	Engine   string
	Replicas int
	Tags     []string
}

// Database is a minimal typed object shaped like the
// databases.stable.imaginedata.co/v1 custom resource.
type Database struct {
	metav1.TypeMeta
	metav1.ObjectMeta

	Spec DatabaseSpec
}

// DeepCopy returns an independent copy of d.
func (d *Database) DeepCopy() *Database {
	if d == nil {
		return nil
	}
	out := &Database{
		TypeMeta: d.TypeMeta,
		Spec:     d.Spec,
	}
	d.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	if d.Spec.Tags != nil {
		out.Spec.Tags = append([]string(nil), d.Spec.Tags...)
	}
	return out
}

// NewDatabase returns a Database with the given key and resource version.
func NewDatabase(namespace, name, resourceVersion string) *Database {
	return &Database{
		TypeMeta: metav1.TypeMeta{APIVersion: "stable.imaginedata.co/v1", Kind: "Database"},
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       namespace,
			Name:            name,
			ResourceVersion: resourceVersion,
			UID:             types.UID(namespace + "-" + name + "-uid"),
		},
		Spec: DatabaseSpec{Engine: "postgres", Replicas: 1},
	}
}

// WithOwner sets a controller owner reference on d and returns it.
func (d *Database) WithOwner(kind, name string, uid types.UID) *Database {
	isController := true
	d.OwnerReferences = append(d.OwnerReferences, metav1.OwnerReference{
		APIVersion: "stable.imaginedata.co/v1",
		Kind:       kind,
		Name:       name,
		UID:        uid,
		Controller: &isController,
	})
	return d
}
