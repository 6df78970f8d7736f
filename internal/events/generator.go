package events

import (
	"context"
	"time"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// eventTimeout bounds a single event write.
const eventTimeout = 10 * time.Second

// EventGenerator renders event messages and hands them to a Sink. Event
// delivery is best effort: failures are logged and never propagated into
// reconcile or election outcomes.
type EventGenerator struct {
	sink      Sink
	templates *MessageTemplateEngine
}

// NewEventGenerator creates a new EventGenerator writing to sink.
func NewEventGenerator(sink Sink) *EventGenerator {
	return &EventGenerator{
		sink:      sink,
		templates: NewMessageTemplateEngine(),
	}
}

// Event renders the message for reason and records it against ref.
func (g *EventGenerator) Event(ctx context.Context, ref ObjectReference, reason EventReason, data EventData) {
	if data.Name == "" {
		data.Name = ref.Name
	}
	if data.Namespace == "" {
		data.Namespace = ref.Namespace
	}

	message := g.templates.Render(reason, data)
	eventType := string(getEventType(reason))

	logging.Debug("events", "Generating %s event for %s/%s: reason=%s, message=%s",
		eventType, ref.Namespace, ref.Name, string(reason), message)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := g.sink.CreateEvent(ctx, ref, string(reason), message, eventType); err != nil {
		logging.Warn("events", "Failed to record %s event for %s/%s: %v", reason, ref.Namespace, ref.Name, err)
	}
}

// ReconcileFailed records a failed reconcile of ref.
func (g *EventGenerator) ReconcileFailed(ctx context.Context, ref ObjectReference, err error, attempts int) {
	g.Event(ctx, ref, ReasonReconcileFailed, EventData{Error: err.Error(), Attempts: attempts})
}

// ReconcileRecovered records a successful reconcile of ref after failures.
func (g *EventGenerator) ReconcileRecovered(ctx context.Context, ref ObjectReference, attempts int) {
	g.Event(ctx, ref, ReasonReconcileRecovered, EventData{Attempts: attempts})
}

// LeaderElected records that identity acquired the lease ref.
func (g *EventGenerator) LeaderElected(ctx context.Context, ref ObjectReference, identity string) {
	g.Event(ctx, ref, ReasonLeaderElected, EventData{Identity: identity})
}

// LeaderLost records that identity stopped leading on lease ref after
// holding it for held.
func (g *EventGenerator) LeaderLost(ctx context.Context, ref ObjectReference, identity string, held time.Duration) {
	g.Event(ctx, ref, ReasonLeaderLost, EventData{Identity: identity, Duration: held})
}

// SetTemplate allows customizing the message template for a specific event reason.
func (g *EventGenerator) SetTemplate(reason EventReason, template string) {
	g.templates.SetTemplate(reason, template)
}

// GetTemplate returns the template for a specific event reason.
func (g *EventGenerator) GetTemplate(reason EventReason) (string, bool) {
	return g.templates.GetTemplate(reason)
}
