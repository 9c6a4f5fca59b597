package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrierResumeFirstWakesOneMatchingWaiter(t *testing.T) {
	b := NewBarrier()
	ctx := context.Background()

	results := make(chan any, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, err := b.Wait(ctx, func(v any) bool { return v.(int) == 42 })
			require.NoError(t, err)
			results <- v
		}()
	}

	require.Eventually(t, func() bool { return b.Len() == 2 }, time.Second, time.Millisecond)
	require.True(t, b.ResumeFirst(42))
	require.Equal(t, 42, <-results)
	require.Equal(t, 1, b.Len())
}

func TestBarrierWaitCancelledRemovesWaiter(t *testing.T) {
	b := NewBarrier()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Wait(ctx, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, b.Len())
}

func TestBarrierResumeAllWakesEveryMatch(t *testing.T) {
	b := NewBarrier()
	ctx := context.Background()

	const n = 5
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		go func() {
			v, _ := b.Wait(ctx, nil)
			results <- v
		}()
	}
	require.Eventually(t, func() bool { return b.Len() == n }, time.Second, time.Millisecond)
	require.Equal(t, n, b.ResumeAll("go"))
	for i := 0; i < n; i++ {
		require.Equal(t, "go", <-results)
	}
}
