package events

import (
	"time"
)

// EventType represents the type/severity of a Kubernetes Event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// Reconcile event reasons
const (
	// ReasonReconcileFailed indicates a reconcile returned an error and the
	// key was scheduled for a retry.
	ReasonReconcileFailed EventReason = "ReconcileFailed"

	// ReasonReconcileRecovered indicates a key reconciled successfully after
	// one or more failures.
	ReasonReconcileRecovered EventReason = "ReconcileRecovered"
)

// Leader election event reasons
const (
	// ReasonLeaderElected indicates this process acquired the lease.
	ReasonLeaderElected EventReason = "LeaderElected"

	// ReasonLeaderLost indicates this process stopped leading.
	ReasonLeaderLost EventReason = "LeaderLost"
)

// EventData holds contextual information for event message templating.
type EventData struct {
	// Name is the name of the object involved in the event.
	Name string

	// Namespace is the namespace of the object involved in the event.
	Namespace string

	// Identity is the leader election identity for leadership events.
	Identity string

	// Error contains error information for failure events.
	Error string

	// Attempts is the number of consecutive failed reconciles.
	Attempts int

	// Duration is how long leadership was held (for LeaderLost).
	Duration time.Duration
}

// ObjectReference represents a reference to a Kubernetes object for event creation.
type ObjectReference struct {
	APIVersion string
	Kind       string
	Name       string
	Namespace  string

	// UID is the unique identifier of the object (optional).
	UID string
}

// getEventType returns the appropriate EventType for a given EventReason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonReconcileFailed, ReasonLeaderLost:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
