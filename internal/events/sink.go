package events

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/utils/clock"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// Sink persists events.
type Sink interface {
	CreateEvent(ctx context.Context, ref ObjectReference, reason, message, eventType string) error
}

// KubeSink creates core/v1 Events through the API server.
type KubeSink struct {
	client    corev1client.EventsGetter
	component string
	host      string
	clock     clock.PassiveClock
}

// NewKubeSink returns a sink that reports events as component from host.
func NewKubeSink(client corev1client.EventsGetter, component, host string) *KubeSink {
	return &KubeSink{client: client, component: component, host: host, clock: clock.RealClock{}}
}

// CreateEvent implements Sink.
func (s *KubeSink) CreateEvent(ctx context.Context, ref ObjectReference, reason, message, eventType string) error {
	now := metav1.NewTime(s.clock.Now())
	namespace := ref.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}

	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: ref.Name + "-",
			Namespace:    namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: ref.APIVersion,
			Kind:       ref.Kind,
			Name:       ref.Name,
			Namespace:  ref.Namespace,
			UID:        types.UID(ref.UID),
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		Source:         corev1.EventSource{Component: s.component, Host: s.host},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}

	if _, err := s.client.Events(namespace).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event: %w", err)
	}
	return nil
}

// LogSink writes events to the log. It is used when there is no API server
// to store them.
type LogSink struct{}

// CreateEvent implements Sink.
func (LogSink) CreateEvent(_ context.Context, ref ObjectReference, reason, message, eventType string) error {
	logging.Info("event", "Event for %s %s/%s: %s - %s (%s)",
		ref.Kind, ref.Namespace, ref.Name, reason, message, eventType)
	return nil
}
