package engine

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous engine operation. It is
// resolved exactly once, from the engine loop.
//
// Do not Wait on a Future from inside a listener callback: callbacks run
// on the loop that would resolve it.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

func (f *Future[T]) resolve(val T) { f.complete(val, nil) }

func (f *Future[T]) reject(err error) {
	var zero T
	f.complete(zero, err)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready reports whether the result is available.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
