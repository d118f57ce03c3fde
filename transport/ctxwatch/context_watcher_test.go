package ctxwatch_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxleaf/pgwire/transport/ctxwatch"
	"github.com/stretchr/testify/require"
)

func TestContextWatcherContextCancelled(t *testing.T) {
	canceledChan := make(chan struct{})
	cleanupCalled := false
	cw := ctxwatch.NewContextWatcher(func() {
		canceledChan <- struct{}{}
	}, func() {
		cleanupCalled = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cw.Watch(ctx)
	cancel()

	select {
	case <-canceledChan:
	case <-time.NewTimer(time.Second).C:
		t.Fatal("timed out waiting for cancel func to be called")
	}

	cw.Unwatch()

	require.True(t, cleanupCalled, "cleanup func was not called")
}

func TestContextWatcherUnwatchedBeforeContextCancelled(t *testing.T) {
	cw := ctxwatch.NewContextWatcher(func() {
		t.Error("cancel func should not have been called")
	}, func() {
		t.Error("cleanup func should not have been called")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cw.Watch(ctx)
	cw.Unwatch()
	cancel()
}

func TestContextWatcherMultipleWatchPanics(t *testing.T) {
	cw := ctxwatch.NewContextWatcher(func() {}, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cw.Watch(ctx)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	require.Panics(t, func() { cw.Watch(ctx2) })
}

func TestContextWatcherUnwatchIsAlwaysSafe(t *testing.T) {
	cw := ctxwatch.NewContextWatcher(func() {}, func() {})
	cw.Unwatch()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cw.Watch(ctx)
	cw.Unwatch()
	cw.Unwatch()
}

func TestContextWatcherStress(t *testing.T) {
	var cancelFuncCalls int64
	var cleanupFuncCalls int64

	cw := ctxwatch.NewContextWatcher(func() {
		atomic.AddInt64(&cancelFuncCalls, 1)
	}, func() {
		atomic.AddInt64(&cleanupFuncCalls, 1)
	})

	const cycleCount = 20000

	for i := 0; i < cycleCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cw.Watch(ctx)
		if i%2 == 0 {
			cancel()
		}

		if i%3 == 0 {
			time.Sleep(time.Nanosecond)
		}

		cw.Unwatch()
		if i%2 == 1 {
			cancel()
		}
	}

	actualCancelFuncCalls := atomic.LoadInt64(&cancelFuncCalls)
	actualCleanupFuncCalls := atomic.LoadInt64(&cleanupFuncCalls)

	require.NotZero(t, actualCancelFuncCalls)
	require.LessOrEqual(t, actualCancelFuncCalls, int64(cycleCount)/2)
	require.Equal(t, actualCancelFuncCalls, actualCleanupFuncCalls)
}
