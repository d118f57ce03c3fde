// Package ctxwatch lets a blocking read on a net.Conn be interrupted by
// a context.Context without needing the read itself to be
// context-aware.
package ctxwatch

import (
	"context"
	"sync/atomic"
)

// ContextWatcher watches a single context at a time and runs onCancel
// when it's done, so a blocked transport read can be unblocked.
type ContextWatcher struct {
	onCancel             func()
	onUnwatchAfterCancel func()

	watchInProgress uint32
	watchChan       chan context.Context
	unwatchChan     chan struct{}
}

// NewContextWatcher returns a ContextWatcher that calls onCancel when a
// watched context is canceled, and onUnwatchAfterCancel if Unwatch is
// called after that has already happened.
func NewContextWatcher(onCancel func(), onUnwatchAfterCancel func()) *ContextWatcher {
	return &ContextWatcher{
		onCancel:             onCancel,
		onUnwatchAfterCancel: onUnwatchAfterCancel,
	}
}

func (cw *ContextWatcher) watch() {
	for ctx := range cw.watchChan {
		select {
		case <-ctx.Done():
			cw.onCancel()
			<-cw.watchChan
			cw.onUnwatchAfterCancel()
			cw.unwatchChan <- struct{}{}
		case <-cw.watchChan:
			cw.unwatchChan <- struct{}{}
		}
	}
}

// Watch begins watching ctx. Panics if a Watch is already in progress
// without a matching Unwatch.
func (cw *ContextWatcher) Watch(ctx context.Context) {
	if atomic.SwapUint32(&cw.watchInProgress, 1) != 0 {
		panic("ctxwatch: Watch already in progress")
	}
	if ctx.Done() == nil {
		atomic.StoreUint32(&cw.watchInProgress, 0)
		return
	}

	if cw.watchChan == nil {
		cw.watchChan = make(chan context.Context, 1)
		cw.unwatchChan = make(chan struct{}, 1)
		go cw.watch()
	}
	cw.watchChan <- ctx
}

// Unwatch stops watching the context started by the last Watch call.
func (cw *ContextWatcher) Unwatch() {
	if atomic.SwapUint32(&cw.watchInProgress, 0) != 1 {
		return
	}
	cw.watchChan <- nil
	<-cw.unwatchChan
}

// Stop releases the background goroutine. The ContextWatcher cannot be
// reused afterward.
func (cw *ContextWatcher) Stop() {
	cw.Unwatch()
	if cw.watchChan != nil {
		close(cw.watchChan)
	}
}
