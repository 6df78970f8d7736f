package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AddAndGet(t *testing.T) {
	q := New[string]()

	q.Add("db/alpha")

	if q.Len() != 1 {
		t.Errorf("expected queue length 1, got %d", q.Len())
	}

	got, shutdown := q.Get()
	if shutdown {
		t.Fatal("expected to get item from queue")
	}
	if got != "db/alpha" {
		t.Errorf("got unexpected key: %q", got)
	}

	q.Done(got)
	if q.Processing() != 0 {
		t.Errorf("expected nothing processing after Done, got %d", q.Processing())
	}
}

func TestQueue_Deduplication(t *testing.T) {
	q := New[string]()

	q.Add("db/alpha")
	q.Add("db/alpha")
	q.Add("db/beta")

	if q.Len() != 2 {
		t.Errorf("expected queue length 2 after deduplication, got %d", q.Len())
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Add(i)
	}
	for i := 0; i < 5; i++ {
		got, _ := q.Get()
		assert.Equal(t, i, got)
		q.Done(got)
	}
}

func TestQueue_DirtyRequeueExactlyOnce(t *testing.T) {
	q := New[string]()

	q.Add("db/alpha")
	got, _ := q.Get()

	// new events while processing mark the key dirty instead of queuing it
	q.Add("db/alpha")
	q.Add("db/alpha")
	assert.Equal(t, 0, q.Len(), "key being processed must not be pending")

	q.Done(got)
	assert.Equal(t, 1, q.Len(), "dirty key must be re-queued exactly once")

	again, shutdown := q.Get()
	require.False(t, shutdown)
	assert.Equal(t, "db/alpha", again)
	q.Done(again)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DoneWithoutDirtyDoesNotRequeue(t *testing.T) {
	q := New[string]()
	q.Add("db/alpha")
	got, _ := q.Get()
	q.Done(got)
	assert.Equal(t, 0, q.Len())

	// Done for a key that is not processing is ignored
	q.Done("db/unknown")
	assert.Equal(t, 0, q.Len())
}

func TestQueue_AtMostOneInFlight(t *testing.T) {
	q := New[int]()

	const (
		workers = 8
		keys    = 4
		rounds  = 200
	)

	var inFlight [keys]atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				key, shutdown := q.Get()
				if shutdown {
					return
				}
				if inFlight[key].Add(1) > 1 {
					violations.Add(1)
				}
				time.Sleep(50 * time.Microsecond)
				inFlight[key].Add(-1)
				q.Done(key)
			}
		}()
	}

	for r := 0; r < rounds; r++ {
		for k := 0; k < keys; k++ {
			q.Add(k)
		}
	}

	require.Eventually(t, func() bool {
		return q.Len() == 0 && q.Processing() == 0
	}, 5*time.Second, 5*time.Millisecond)

	q.ShutDown()
	wg.Wait()

	assert.Zero(t, violations.Load(), "a key was processed by two workers at once")
}

func TestQueue_ShutDownUnblocksGet(t *testing.T) {
	q := New[string]()

	done := make(chan bool)
	go func() {
		_, shutdown := q.Get()
		done <- shutdown
	}()

	// let the goroutine block in Get
	time.Sleep(10 * time.Millisecond)
	q.ShutDown()

	select {
	case shutdown := <-done:
		assert.True(t, shutdown)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after ShutDown")
	}

	assert.True(t, q.ShuttingDown())

	q.Add("db/alpha")
	assert.Equal(t, 0, q.Len(), "Add after shutdown must be ignored")
}

func TestQueue_ShutDownDiscardsPending(t *testing.T) {
	q := New[string]()
	q.Add("db/alpha")
	q.Add("db/beta")

	q.ShutDown()

	_, shutdown := q.Get()
	assert.True(t, shutdown, "Get after ShutDown must report shutdown even with pending keys")
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ShutDownWithDrainWaitsForInFlight(t *testing.T) {
	q := New[string]()
	q.Add("db/alpha")
	key, _ := q.Get()

	drained := make(chan struct{})
	go func() {
		q.ShutDownWithDrain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while a key was still processing")
	case <-time.After(50 * time.Millisecond):
	}

	// a dirty key finished after shutdown is not re-queued
	q.Add(key)
	q.Done(key)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain did not return after Done")
	}
	assert.Equal(t, 0, q.Len())
}
