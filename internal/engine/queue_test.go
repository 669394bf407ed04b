package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) task {
	return task{name: name, fn: func(context.Context) error { return nil }}
}

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()

	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(named(name)))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.name)
	}
}

func TestTaskQueue_TryDequeue_Empty(t *testing.T) {
	q := newTaskQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTaskQueue_WaitSignals(t *testing.T) {
	q := newTaskQueue()

	done := make(chan string)
	go func() {
		<-q.Wait()
		if tk, ok := q.TryDequeue(); ok {
			done <- tk.name
		}
	}()

	q.Enqueue(named("wake"))

	select {
	case name := <-done:
		assert.Equal(t, "wake", name)
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()
	q.Enqueue(named("queued"))
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(named("late")), "enqueue after close should return false")

	_, open := <-q.Wait()
	assert.False(t, open, "close wakes waiters")

	tk, ok := q.TryDequeue()
	require.True(t, ok, "queued tasks survive close")
	assert.Equal(t, "queued", tk.name)
}

func TestTaskQueue_Len(t *testing.T) {
	q := newTaskQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(named("1"))
	q.Enqueue(named("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestTaskQueue_ThreadSafe(t *testing.T) {
	q := newTaskQueue()

	const producers = 10
	const tasksPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < tasksPerProducer; i++ {
				q.Enqueue(named("t"))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*tasksPerProducer, received)
}
