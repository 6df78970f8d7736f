package source

import (
	"context"
	"errors"
)

// ErrExpired is returned by Watch, or carried by an Error event, when the
// requested resource version is no longer available. The informer answers
// it with a full re-list.
var ErrExpired = errors.New("resource version expired")

// EventType is the kind of a watch notification.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
	Bookmark EventType = "BOOKMARK"
	Error    EventType = "ERROR"
)

// WatchEvent is one notification of a watch stream. Object is unset for
// Bookmark and Error events; Err is only set for Error events.
type WatchEvent[T any] struct {
	Type            EventType
	Object          T
	ResourceVersion string
	Err             error
}

// ListResult is a point-in-time snapshot of the remote store.
type ListResult[T any] struct {
	Items           []T
	ResourceVersion string
}

// Watcher is a running watch stream. ResultChan is closed when the stream
// ends, either because Stop was called or because the remote side closed it.
type Watcher[T any] interface {
	ResultChan() <-chan WatchEvent[T]
	Stop()
}

// ListerWatcher abstracts the list-then-watch protocol of a remote store.
type ListerWatcher[T any] interface {
	// List returns every object together with the resource version the
	// snapshot was taken at.
	List(ctx context.Context) (ListResult[T], error)

	// Watch streams changes made after resourceVersion. It returns
	// ErrExpired when the version is too old to resume from.
	Watch(ctx context.Context, resourceVersion string) (Watcher[T], error)
}
