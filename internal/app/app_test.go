package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/giantswarm/ctrlloop/internal/cache"
	"github.com/giantswarm/ctrlloop/internal/config"
	"github.com/giantswarm/ctrlloop/internal/controller"
	"github.com/giantswarm/ctrlloop/internal/events"
	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/internal/manager"
	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/internal/testing/fakestore"
	"github.com/giantswarm/ctrlloop/internal/workqueue"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	logging.Init(logging.LevelDebug, logging.FormatText, buf)
	t.Cleanup(func() { logging.Init(logging.LevelInfo, logging.FormatText, io.Discard) })
	return buf
}

func newDatabase(namespace, name string, spec map[string]interface{}) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("stable.imaginedata.co/v1")
	u.SetKind("Database")
	u.SetNamespace(namespace)
	u.SetName(name)
	if spec != nil {
		u.Object["spec"] = spec
	}
	return u
}

func fastConfig() config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Metrics.BindAddress = ""
	cfg.Source.ResyncPeriod = 0
	cfg.LeaderElection.LeaseDuration = config.Duration(600 * time.Millisecond)
	cfg.LeaderElection.RenewDeadline = config.Duration(300 * time.Millisecond)
	cfg.LeaderElection.RetryPeriod = config.Duration(50 * time.Millisecond)
	return cfg
}

func TestDatabasePrinter_Reconcile(t *testing.T) {
	logs := captureLogs(t)

	indexer := cache.NewIndexer[Object](cache.DefaultIndexers[Object]())
	for _, obj := range []Object{
		newDatabase("default", "alpha", map[string]interface{}{"engine": "postgres", "replicas": int64(2)}),
		newDatabase("other", "beta", nil),
		newDatabase("default", "broken", nil),
	} {
		_, err := indexer.Apply(cache.Delta[Object]{Type: cache.Added, Object: obj})
		require.NoError(t, err)
	}
	broken, _ := indexer.Get(resource.NewKey("default", "broken"))
	broken.Object["spec"] = "not a map"
	broken.SetResourceVersion("2")
	_, err := indexer.Apply(cache.Delta[Object]{Type: cache.Updated, Object: broken})
	require.NoError(t, err)

	printer := NewDatabasePrinter(cache.NewLister(indexer), "default")
	ctx := context.Background()

	result, err := printer.Reconcile(ctx, controller.AbsentRequest[Object](resource.NewKey("default", "alpha")))
	require.NoError(t, err)
	assert.True(t, result.IsZero())
	assert.Contains(t, logs.String(), "Database default/alpha")
	assert.Contains(t, logs.String(), "replicas: 2")

	_, err = printer.Reconcile(ctx, controller.AbsentRequest[Object](resource.NewKey("other", "beta")))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Ignoring other/beta outside namespace default")

	_, err = printer.Reconcile(ctx, controller.AbsentRequest[Object](resource.NewKey("default", "gone")))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Database default/gone no longer exists")

	_, err = printer.Reconcile(ctx, controller.AbsentRequest[Object](resource.NewKey("default", "broken")))
	assert.Error(t, err, "a malformed spec is reported so the key is retried")
}

func TestNewServices_LeaderElectionRequiresLock(t *testing.T) {
	_, err := NewServices(fastConfig(), fakestore.New[Object](), nil, nil)
	assert.Error(t, err)

	cfg := fastConfig()
	cfg.LeaderElection.Enabled = false
	services, err := NewServices(cfg, fakestore.New[Object](), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, services.LeaderElecting)
	assert.NoError(t, services.Healthz())
	assert.Error(t, services.Readyz(), "caches are not synced before the informer ran")
}

func TestApplication_RunPrintsDatabasesUnderLease(t *testing.T) {
	logs := captureLogs(t)

	store := fakestore.New[Object]()
	_, err := store.Create(newDatabase("default", "alpha", map[string]interface{}{"engine": "postgres"}))
	require.NoError(t, err)
	leases := fakestore.NewLeaseStore()
	sink := &eventSink{}

	services, err := NewServices(fastConfig(), store, leases.Lock("replica-0"), sink)
	require.NoError(t, err)
	assert.Equal(t, "replica-0", services.Identity)

	application := NewApplicationWithServices(&Config{}, services)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Database default/alpha")
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, services.Readyz())
	assert.NoError(t, services.Healthz())
	assert.Equal(t, "replica-0", leases.Record().HolderIdentity)

	_, err = store.Create(newDatabase("default", "beta", nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Database default/beta")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.Equal(t, controller.StateStopped, services.Controller.State())
	assert.Empty(t, leases.Record().HolderIdentity, "the lease is released on shutdown")

	assert.Equal(t, []string{"LeaderElected", "LeaderLost"}, sink.reasons())
}

func TestApplication_RunFailsWhenStoreUnreachableAtStartup(t *testing.T) {
	captureLogs(t)

	store := fakestore.New[Object]()
	store.SetListError(errors.New("connection refused"))
	leases := fakestore.NewLeaseStore()

	cfg := fastConfig()
	cfg.Source.InitialSyncTimeout = config.Duration(200 * time.Millisecond)
	services, err := NewServices(cfg, store, leases.Lock("replica-0"), &eventSink{})
	require.NoError(t, err)

	application := NewApplicationWithServices(&Config{}, services)
	done := make(chan error, 1)
	go func() { done <- application.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, manager.ErrInitialSyncTimeout), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("application kept running against an unreachable store")
	}
	assert.GreaterOrEqual(t, store.ListCalls(), 1)
	assert.Equal(t, controller.StateStopped, services.Controller.State())
}

func TestNewApplication_LogsWithConfiguredFormat(t *testing.T) {
	logs := &syncBuffer{}
	t.Cleanup(func() { logging.Init(logging.LevelInfo, logging.FormatText, io.Discard) })

	cfg := config.GetDefaultConfig()
	cfg.Source.Mode = config.SourceModeFilesystem
	cfg.Source.Directory = t.TempDir()
	cfg.LeaderElection.Enabled = false
	cfg.Logging.Format = "json"

	_, err := NewApplication(&Config{Debug: true, LogOutput: logs, CtrlConfig: &cfg})
	require.NoError(t, err)

	ctrl.Log.WithName("bootstrap-test").V(1).Info("controller-runtime debug line")

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &record), "every line is JSON: %q", line)
		if record["msg"] == "controller-runtime debug line" {
			found = true
			assert.Equal(t, "controller-runtime", record["subsystem"])
		}
	}
	assert.True(t, found, "controller-runtime output follows the configured format and level")
}

// eventSink records event reasons.
type eventSink struct {
	mu     sync.Mutex
	events []string
	refs   []events.ObjectReference
}

func (s *eventSink) CreateEvent(_ context.Context, ref events.ObjectReference, reason, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, reason)
	s.refs = append(s.refs, ref)
	return nil
}

func (s *eventSink) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func TestEventingReconciler(t *testing.T) {
	sink := &eventSink{}
	fail := true
	next := controller.ReconcilerFunc[Object](func(ctx context.Context, req controller.Request[Object]) (controller.Result, error) {
		if fail {
			return controller.Result{}, assert.AnError
		}
		return controller.Result{}, nil
	})
	gvk := fastConfig().Source.GroupVersionKind()
	r := newEventingReconciler(next, events.NewEventGenerator(sink), gvk)

	obj := newDatabase("default", "alpha", nil)
	obj.SetUID("uid-alpha")
	req := controller.NewRequest(resource.NewKey("default", "alpha"), obj)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, req)
	assert.Error(t, err)
	_, err = r.Reconcile(ctx, req)
	assert.Error(t, err)

	fail = false
	_, err = r.Reconcile(ctx, req)
	assert.NoError(t, err)
	_, err = r.Reconcile(ctx, req)
	assert.NoError(t, err)

	assert.Equal(t, []string{"ReconcileFailed", "ReconcileFailed", "ReconcileRecovered"}, sink.reasons())
	ref := sink.refs[0]
	assert.Equal(t, gvk.Kind, ref.Kind)
	assert.Equal(t, gvk.GroupVersion().String(), ref.APIVersion)
	assert.Equal(t, "uid-alpha", ref.UID)
}

func TestMetricsServer_Endpoints(t *testing.T) {
	RegisterMetrics()

	q := workqueue.NewWithConfig[string](workqueue.Config{Name: "metrics-server-test"})
	q.Add("a")

	var ready atomic.Bool
	server := NewMetricsServer(":0", nil, func() error {
		if !ready.Load() {
			return assert.AnError
		}
		return nil
	})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	ready.Store(true)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `ctrlloop_workqueue_adds_total{name="metrics-server-test"} 1`)
}

func TestMetricsServer_RunStopsWithContext(t *testing.T) {
	server := NewMetricsServer("127.0.0.1:0", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestReadLease(t *testing.T) {
	leases := fakestore.NewLeaseStore()

	_, err := ReadLease(context.Background(), leases.Lock(""))
	assert.Error(t, err, "no lease written yet")

	_, err = leases.Lock("replica-0").Create(context.Background(), leaderRecord("replica-0"))
	require.NoError(t, err)

	info, err := ReadLease(context.Background(), leases.Lock(""))
	require.NoError(t, err)
	assert.Equal(t, "replica-0", info.Record.HolderIdentity)
	assert.Equal(t, "fakestore/lease", info.Lock)
}

func leaderRecord(holder string) leaderelection.Record {
	now := time.Now()
	return leaderelection.Record{
		HolderIdentity: holder,
		LeaseDuration:  10 * time.Second,
		AcquireTime:    now,
		RenewTime:      now,
	}
}
