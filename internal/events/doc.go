// Package events records Kubernetes Events for reconcile failures and
// leadership changes.
//
// An EventGenerator renders a message for an EventReason from a small
// template set and hands it to a Sink:
//
//   - KubeSink creates core/v1 Events, visible with kubectl get events
//   - LogSink logs the event, for sources without an API server
//
// Recording is best effort. A failed write is logged and otherwise
// ignored.
//
//	generator := events.NewEventGenerator(events.NewKubeSink(clientset.CoreV1(), "ctrlloop", hostname))
//	generator.ReconcileFailed(ctx, ref, err, 3)
package events
