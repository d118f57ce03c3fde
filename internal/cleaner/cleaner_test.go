package cleaner_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/oxleaf/pgwire/internal/cleaner"
	"github.com/stretchr/testify/require"
)

func TestCleanRunsActionOnce(t *testing.T) {
	ran := 0
	cl := cleaner.Default.Register(func() { ran++ })

	cl.Clean()
	cl.Clean()

	require.Equal(t, 1, ran)
}

func TestFinalizerRunsActionWhenUnreachable(t *testing.T) {
	done := make(chan struct{})

	func() {
		cl := cleaner.Default.Register(func() { close(done) })
		runtime.KeepAlive(cl)
	}()

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		runtime.GC()
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("finalizer did not run the registered action")
		case <-ticker.C:
		}
	}
}
