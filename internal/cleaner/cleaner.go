// Package cleaner is a process-wide guard against leaked connections:
// a caller that drops a *pgwire.Conn without calling Close leaves its
// socket and any server-side resources dangling until the process
// exits. Grounded on pgjdbc's LazyCleaner (registered against a
// PgConnection's own leak handle and run from a finalizer once the
// connection becomes unreachable), reimplemented over
// runtime.SetFinalizer since Go has no PhantomReference/ReferenceQueue
// equivalent.
package cleaner

import (
	"runtime"
	"sync"
)

// Cleaner registers close actions to run when their owner becomes
// unreachable without having cleaned up first. The zero value is
// ready to use; Default is the process-wide instance every Conn
// registers against.
type Cleaner struct{}

// Default is the Cleaner every pgwire.Conn registers with.
var Default = &Cleaner{}

// Cleanable is the handle Register returns. Its owner calls Clean
// when it closes normally, which detaches the finalizer so the action
// doesn't run a second time; if the owner is garbage collected
// without calling Clean, the action runs from the finalizer instead.
type Cleanable struct {
	once   sync.Once
	action func()
	handle *byte
}

// Register arranges for action to run exactly once: either when Clean
// is called, or — if it never is — when the Cleanable itself becomes
// unreachable. action must not close over the object whose lifetime
// is being tracked (directly or transitively), or it roots that
// object forever and the finalizer never fires; close over the raw
// resource (a socket, a file) instead.
func (c *Cleaner) Register(action func()) *Cleanable {
	cl := &Cleanable{action: action, handle: new(byte)}
	runtime.SetFinalizer(cl, (*Cleanable).run)
	return cl
}

func (cl *Cleanable) run() {
	cl.once.Do(cl.action)
}

// Clean runs the registered action immediately, if it hasn't already,
// and stops the finalizer from running it again. Safe to call more
// than once or concurrently; only the first call has any effect.
func (cl *Cleanable) Clean() {
	runtime.SetFinalizer(cl, nil)
	cl.run()
}
