// Package source turns a remote store's list-then-watch protocol into
// cache updates and handler notifications.
//
// An Informer lists the store, replaces its cache with the snapshot and
// then watches from the snapshot's resource version. Objects that appeared
// or vanished while no watch was running are reported as synthetic adds
// and deletes. A periodic resync re-delivers the whole cache as updates.
//
// Backends live in subpackages: kube for the Kubernetes API and filesystem
// for a directory of YAML manifests.
package source
