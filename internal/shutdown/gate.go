// Package shutdown provides the process-wide stop gate and the bridge that
// turns OS signals into stop requests.
package shutdown

import (
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a one-way stop flag with interruptible waits.
// Any goroutine may request a stop; every waiter wakes as soon as it does.
// The zero value is not usable, create one with NewGate.
type Gate struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
	reason  atomic.Value // string
}

// NewGate creates an open gate.
func NewGate() *Gate {
	g := &Gate{done: make(chan struct{})}
	g.reason.Store("")
	return g
}

// RequestStop marks the gate as stopped and wakes all waiters.
// Only the first call's reason is kept; later calls are no-ops.
func (g *Gate) RequestStop(reason string) {
	g.once.Do(func() {
		g.reason.Store(reason)
		g.stopped.Store(true)
		close(g.done)
	})
}

// Stopped reports whether a stop has been requested.
func (g *Gate) Stopped() bool {
	return g.stopped.Load()
}

// Reason returns the reason passed to the first RequestStop call.
func (g *Gate) Reason() string {
	return g.reason.Load().(string)
}

// Done returns a channel that is closed when a stop is requested.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// WaitFor blocks for up to d, returning early if a stop is requested.
// Non-positive durations return immediately. The result reports whether
// the gate is stopped when WaitFor returns.
func (g *Gate) WaitFor(d time.Duration) bool {
	if g.Stopped() {
		return true
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-g.done:
		return true
	case <-timer.C:
		return g.Stopped()
	}
}
