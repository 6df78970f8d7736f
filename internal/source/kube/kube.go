// Package kube implements source.ListerWatcher against the Kubernetes API
// using the dynamic client, so any custom resource can be watched as
// unstructured objects without generated types.
package kube

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const subsystem = "KubeSource"

// Object is the type produced by this source.
type Object = *unstructured.Unstructured

// ListerWatcher lists and watches one resource, optionally restricted to a
// namespace.
type ListerWatcher struct {
	client    dynamic.ResourceInterface
	gvr       schema.GroupVersionResource
	namespace string
}

// New returns a ListerWatcher for gvr. An empty namespace watches all
// namespaces.
func New(client dynamic.Interface, gvr schema.GroupVersionResource, namespace string) *ListerWatcher {
	var ri dynamic.ResourceInterface = client.Resource(gvr)
	if namespace != "" {
		ri = client.Resource(gvr).Namespace(namespace)
	}
	return &ListerWatcher{client: ri, gvr: gvr, namespace: namespace}
}

// NewForConfig builds the dynamic client from restConfig.
func NewForConfig(restConfig *rest.Config, gvr schema.GroupVersionResource, namespace string) (*ListerWatcher, error) {
	client, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return New(client, gvr, namespace), nil
}

// RestConfig loads the client configuration from kubeconfig, or, when that
// is empty, the standard locations (KUBECONFIG, in-cluster, ~/.kube/config).
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return cfg, nil
	}
	return ctrl.GetConfig()
}

// List implements source.ListerWatcher.
func (lw *ListerWatcher) List(ctx context.Context) (source.ListResult[Object], error) {
	list, err := lw.client.List(ctx, metav1.ListOptions{})
	if err != nil {
		return source.ListResult[Object]{}, lw.wrap("list", err)
	}

	items := make([]Object, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, &list.Items[i])
	}
	return source.ListResult[Object]{Items: items, ResourceVersion: list.GetResourceVersion()}, nil
}

// Watch implements source.ListerWatcher. Bookmarks are requested so the
// resume point advances even when nothing changes.
func (lw *ListerWatcher) Watch(ctx context.Context, resourceVersion string) (source.Watcher[Object], error) {
	w, err := lw.client.Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return nil, lw.wrap("watch", err)
	}
	logging.Debug(subsystem, "Watching %s from resource version %q", lw.describe(), resourceVersion)
	return newWatcher(w), nil
}

func (lw *ListerWatcher) wrap(op string, err error) error {
	if isExpired(err) {
		return fmt.Errorf("%s %s: %w: %v", op, lw.describe(), source.ErrExpired, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, lw.describe(), err)
}

func (lw *ListerWatcher) describe() string {
	if lw.namespace == "" {
		return lw.gvr.Resource + " in all namespaces"
	}
	return lw.gvr.Resource + " in namespace " + lw.namespace
}

func isExpired(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}

// watcher converts a watch.Interface into a source.Watcher.
type watcher struct {
	inner watch.Interface
	out   chan source.WatchEvent[Object]

	stopOnce sync.Once
	stopped  chan struct{}
}

func newWatcher(inner watch.Interface) *watcher {
	w := &watcher{
		inner:   inner,
		out:     make(chan source.WatchEvent[Object]),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watcher) run() {
	defer close(w.out)
	for ev := range w.inner.ResultChan() {
		out, ok := convert(ev)
		if !ok {
			continue
		}
		select {
		case w.out <- out:
		case <-w.stopped:
			return
		}
	}
}

func (w *watcher) ResultChan() <-chan source.WatchEvent[Object] {
	return w.out
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.inner.Stop()
	})
}

var eventTypes = map[watch.EventType]source.EventType{
	watch.Added:    source.Added,
	watch.Modified: source.Modified,
	watch.Deleted:  source.Deleted,
	watch.Bookmark: source.Bookmark,
}

func convert(ev watch.Event) (source.WatchEvent[Object], bool) {
	if ev.Type == watch.Error {
		return source.WatchEvent[Object]{Type: source.Error, Err: statusError(ev.Object)}, true
	}

	t, ok := eventTypes[ev.Type]
	if !ok {
		logging.Warn(subsystem, "Ignoring watch event of unknown type %q", ev.Type)
		return source.WatchEvent[Object]{}, false
	}
	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		logging.Warn(subsystem, "Ignoring %s event with unexpected object %T", ev.Type, ev.Object)
		return source.WatchEvent[Object]{}, false
	}
	return source.WatchEvent[Object]{Type: t, Object: obj, ResourceVersion: obj.GetResourceVersion()}, true
}

func statusError(obj runtime.Object) error {
	if obj == nil {
		return errors.New("watch error event without status")
	}
	err := apierrors.FromObject(obj)
	if isExpired(err) {
		return fmt.Errorf("%w: %v", source.ErrExpired, err)
	}
	return err
}
