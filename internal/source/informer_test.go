package source_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/ctrlloop/internal/resource"
	"github.com/giantswarm/ctrlloop/internal/source"
	"github.com/giantswarm/ctrlloop/internal/testing/fakestore"
	"github.com/giantswarm/ctrlloop/internal/testing/fixtures"
)

type db = fixtures.Database

// recordingHandler records notifications as "<op> <key>" strings.
type recordingHandler struct {
	mu      sync.Mutex
	events  []string
	resyncs int
}

func (h *recordingHandler) OnAdd(obj *db, initial bool) {
	h.record(fmt.Sprintf("add %s initial=%t", resource.KeyOf(obj), initial))
}

func (h *recordingHandler) OnUpdate(oldObj, newObj *db) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if oldObj.ResourceVersion == newObj.ResourceVersion {
		h.resyncs++
		return
	}
	h.events = append(h.events, fmt.Sprintf("update %s", resource.KeyOf(newObj)))
}

func (h *recordingHandler) OnDelete(obj *db) {
	h.record(fmt.Sprintf("delete %s", resource.KeyOf(obj)))
}

func (h *recordingHandler) record(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHandler) resyncCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resyncs
}

func fastBackoff() *wait.Backoff {
	return &wait.Backoff{Duration: 5 * time.Millisecond, Factor: 2, Steps: 4, Cap: 50 * time.Millisecond}
}

func runInformer(t *testing.T, inf *source.Informer[*db]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inf.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("informer did not stop")
		}
	})
}

func mustCreate(t *testing.T, store *fakestore.Store[*db], namespace, name string) *db {
	t.Helper()
	obj, err := store.Create(fixtures.NewDatabase(namespace, name, ""))
	require.NoError(t, err)
	return obj
}

func TestInformer_ListThenWatch(t *testing.T) {
	store := fakestore.New[*db]()
	mustCreate(t, store, "db", "alpha")

	h := &recordingHandler{}
	inf := source.NewInformer(source.InformerOptions[*db]{Name: "databases", ListerWatcher: store})
	inf.AddEventHandler(h)
	assert.False(t, inf.HasSynced())

	runInformer(t, inf)
	require.Eventually(t, inf.HasSynced, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"add db/alpha initial=true"}, h.list())
	assert.Equal(t, "1", inf.LastSyncResourceVersion())

	beta := mustCreate(t, store, "db", "beta")
	beta = beta.DeepCopy()
	beta.Spec.Replicas = 2
	_, err := store.Update(beta)
	require.NoError(t, err)
	require.NoError(t, store.Delete(resource.NewKey("db", "alpha")))

	require.Eventually(t, func() bool { return len(h.list()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"add db/alpha initial=true",
		"add db/beta initial=false",
		"update db/beta",
		"delete db/alpha",
	}, h.list())

	got, ok := inf.Lister().Get(resource.NewKey("db", "beta"))
	require.True(t, ok)
	assert.Equal(t, 2, got.Spec.Replicas)
	_, ok = inf.Lister().Get(resource.NewKey("db", "alpha"))
	assert.False(t, ok)
}

func TestInformer_RunTwiceFails(t *testing.T) {
	inf := source.NewInformer(source.InformerOptions[*db]{Name: "databases", ListerWatcher: fakestore.New[*db]()})
	runInformer(t, inf)
	require.Eventually(t, inf.HasSynced, 2*time.Second, 5*time.Millisecond)

	assert.Error(t, inf.Run(context.Background()))
}

// droppingLister hides watch events for the named objects, simulating a
// watch that missed them.
type droppingLister struct {
	*fakestore.Store[*db]
	hidden map[string]bool
}

func (d droppingLister) Watch(ctx context.Context, rv string) (source.Watcher[*db], error) {
	inner, err := d.Store.Watch(ctx, rv)
	if err != nil {
		return nil, err
	}
	out := make(chan source.WatchEvent[*db])
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for ev := range inner.ResultChan() {
			if ev.Object != nil && d.hidden[ev.Object.Name] {
				continue
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return &funcWatcher{ch: out, stop: func() { close(stop); inner.Stop() }}, nil
}

type funcWatcher struct {
	ch   chan source.WatchEvent[*db]
	once sync.Once
	stop func()
}

func (w *funcWatcher) ResultChan() <-chan source.WatchEvent[*db] { return w.ch }
func (w *funcWatcher) Stop()                                     { w.once.Do(w.stop) }

func TestInformer_ExpiredWatchRelistsAndReconcilesMissedChanges(t *testing.T) {
	store := fakestore.New[*db]()
	mustCreate(t, store, "db", "alpha")
	mustCreate(t, store, "db", "beta")

	h := &recordingHandler{}
	inf := source.NewInformer(source.InformerOptions[*db]{
		Name:          "databases",
		ListerWatcher: droppingLister{Store: store, hidden: map[string]bool{"beta": true, "gamma": true}},
		Backoff:       fastBackoff(),
	})
	inf.AddEventHandler(h)
	runInformer(t, inf)
	require.Eventually(t, inf.HasSynced, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return store.Watchers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// the watch never reports these two
	require.NoError(t, store.Delete(resource.NewKey("db", "beta")))
	mustCreate(t, store, "db", "gamma")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.list(), 2, "hidden events must not be delivered")

	store.ExpireWatches()

	require.Eventually(t, func() bool { return len(h.list()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"delete db/beta", "add db/gamma initial=false"}, h.list()[2:])
	assert.Equal(t, 2, store.ListCalls())
	assert.Equal(t, []resource.Key{resource.NewKey("db", "alpha"), resource.NewKey("db", "gamma")}, inf.Indexer().ListKeys())
}

func TestInformer_ClosedWatchResumesWithoutRelist(t *testing.T) {
	store := fakestore.New[*db]()
	h := &recordingHandler{}
	inf := source.NewInformer(source.InformerOptions[*db]{Name: "databases", ListerWatcher: store})
	inf.AddEventHandler(h)
	runInformer(t, inf)
	require.Eventually(t, func() bool { return store.Watchers() == 1 }, 2*time.Second, 5*time.Millisecond)

	store.BreakWatches()
	mustCreate(t, store, "db", "alpha")

	require.Eventually(t, func() bool { return len(h.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "add db/alpha initial=false", h.list()[0])
	assert.Equal(t, 1, store.ListCalls(), "a cleanly closed watch must not trigger a re-list")
}

func TestInformer_ListErrorsAreRetried(t *testing.T) {
	store := fakestore.New[*db]()
	mustCreate(t, store, "db", "alpha")
	store.SetListError(errors.New("connection refused"))

	inf := source.NewInformer(source.InformerOptions[*db]{
		Name:          "databases",
		ListerWatcher: store,
		Backoff:       fastBackoff(),
	})
	runInformer(t, inf)

	require.Eventually(t, func() bool { return store.ListCalls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, inf.HasSynced(), "a failed list must not mark the cache synced")

	store.SetListError(nil)
	require.Eventually(t, inf.HasSynced, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, inf.Indexer().Len())
}

func TestInformer_ResyncRedeliversCachedObjects(t *testing.T) {
	store := fakestore.New[*db]()
	mustCreate(t, store, "db", "alpha")

	h := &recordingHandler{}
	inf := source.NewInformer(source.InformerOptions[*db]{
		Name:          "databases",
		ListerWatcher: store,
		ResyncPeriod:  20 * time.Millisecond,
	})
	inf.AddEventHandler(h)
	runInformer(t, inf)

	require.Eventually(t, func() bool { return h.resyncCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"add db/alpha initial=true"}, h.list())
}

func TestInformer_LateHandlerIsReplayedTheCache(t *testing.T) {
	store := fakestore.New[*db]()
	mustCreate(t, store, "db", "alpha")
	mustCreate(t, store, "other", "beta")

	inf := source.NewInformer(source.InformerOptions[*db]{Name: "databases", ListerWatcher: store})
	runInformer(t, inf)
	require.Eventually(t, inf.HasSynced, 2*time.Second, 5*time.Millisecond)

	h := &recordingHandler{}
	inf.AddEventHandler(h)
	assert.Equal(t, []string{"add db/alpha initial=false", "add other/beta initial=false"}, h.list())

	mustCreate(t, store, "db", "gamma")
	require.Eventually(t, func() bool { return len(h.list()) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueueHandler_MapsEveryNotificationToItsKey(t *testing.T) {
	q := &keyRecorder{}
	h := source.EnqueueHandler[*db]{Queue: q}

	alpha := fixtures.NewDatabase("db", "alpha", "1")
	h.OnAdd(alpha, true)
	h.OnUpdate(alpha, fixtures.NewDatabase("db", "alpha", "2"))
	h.OnDelete(alpha)

	key := resource.NewKey("db", "alpha")
	assert.Equal(t, []resource.Key{key, key, key}, q.keys)
}

type keyRecorder struct {
	keys []resource.Key
}

func (k *keyRecorder) Add(key resource.Key) {
	k.keys = append(k.keys, key)
}
