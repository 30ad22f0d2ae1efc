package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) process(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]int(nil), items...))
	return nil
}

func (r *recorder) all() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(3, time.Hour, rec.process)
	defer b.Stop(context.Background())

	for i := 1; i <= 3; i++ {
		require.True(t, b.Add(i))
	}

	assert.Eventually(t, func() bool {
		return len(rec.all()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, rec.all())
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, 10*time.Millisecond, rec.process)
	defer b.Stop(context.Background())

	b.Add(7)
	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.PendingCount())
}

func TestBatcher_StopFlushesAndRejects(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, time.Hour, rec.process)

	b.Add(1)
	b.Add(2)
	require.NoError(t, b.Stop(context.Background()))

	assert.Equal(t, []int{1, 2}, rec.all())
	assert.False(t, b.Add(3))
	require.NoError(t, b.Stop(context.Background()))
}

func TestBatcher_ErrorHandler(t *testing.T) {
	failure := errors.New("backend down")
	var (
		mu     sync.Mutex
		failed []int
	)
	b := NewBatcher(10, time.Hour,
		func(context.Context, []int) error { return failure },
		WithErrorHandler(func(err error, items []int) {
			mu.Lock()
			defer mu.Unlock()
			assert.ErrorIs(t, err, failure)
			failed = append(failed, items...)
		}),
	)

	b.Add(4)
	b.Add(5)
	assert.ErrorIs(t, b.Flush(context.Background()), failure)
	require.NoError(t, b.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{4, 5}, failed)
}
