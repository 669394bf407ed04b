package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_Resolve(t *testing.T) {
	f := newFuture[int]()
	assert.False(t, f.Ready())

	f.resolve(3)
	f.resolve(4)
	f.reject(errors.New("late"))

	require.True(t, f.Ready())
	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got, "only the first result counts")

	select {
	case <-f.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestFuture_Reject(t *testing.T) {
	f := newFuture[string]()
	boom := errors.New("boom")
	f.reject(boom)

	got, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, got)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Ready())
}

func TestFuture_ResolveFromOtherGoroutine(t *testing.T) {
	f := newFuture[int]()
	go f.resolve(9)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}
