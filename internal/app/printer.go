package app

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/ctrlloop/internal/cache"
	"github.com/giantswarm/ctrlloop/internal/controller"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// DatabasePrinter is the reconciler of the database printing controller.
// It resolves each request through a namespace scoped lister and logs the
// object it finds.
type DatabasePrinter struct {
	namespace string
	lister    *cache.NamespaceLister[*unstructured.Unstructured]
}

// NewDatabasePrinter returns a printer reading from namespace.
func NewDatabasePrinter(lister *cache.Lister[*unstructured.Unstructured], namespace string) *DatabasePrinter {
	return &DatabasePrinter{
		namespace: namespace,
		lister:    lister.Namespace(namespace),
	}
}

// Reconcile implements controller.Reconciler.
func (p *DatabasePrinter) Reconcile(ctx context.Context, req controller.Request[*unstructured.Unstructured]) (controller.Result, error) {
	if req.Key.Namespace != p.namespace {
		logging.Debug("DatabasePrinter", "Ignoring %s outside namespace %s", req.Key, p.namespace)
		return controller.Result{}, nil
	}

	db, ok := p.lister.Get(req.Key.Name)
	if !ok {
		logging.Info("DatabasePrinter", "Database %s no longer exists", req.Key)
		return controller.Result{}, nil
	}

	spec, found, err := unstructured.NestedMap(db.Object, "spec")
	if err != nil {
		return controller.Result{}, fmt.Errorf("database %s has a malformed spec: %w", req.Key, err)
	}
	if !found {
		spec = map[string]interface{}{}
	}
	rendered, err := yaml.Marshal(spec)
	if err != nil {
		return controller.Result{}, fmt.Errorf("failed to render database %s: %w", req.Key, err)
	}

	logging.Info("DatabasePrinter", "Database %s (resourceVersion %s):\n%s", req.Key, db.GetResourceVersion(), rendered)
	return controller.Result{}, nil
}
