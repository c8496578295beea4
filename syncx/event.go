package syncx

import (
	"sync/atomic"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

// Event is a coroutine-suspending manual-reset event. Its state is -1
// while signalled, or the count of currently blocked waiters otherwise.
// Grounded on Event::Set/Reset/Wait in Sync.cpp.
type Event struct {
	svc     *service.Service
	state   atomic.Int64
	waiters *lockfree.Queue[*coro.Coroutine]
}

// NewEvent builds an Event in the unsignalled state.
func NewEvent(svc *service.Service) *Event {
	return &Event{svc: svc, waiters: lockfree.NewQueue[*coro.Coroutine](8)}
}

// Set signals the event and wakes every coroutine currently waiting on
// it. Waiters that arrive after Set return immediately until Reset is
// called.
func (e *Event) Set() {
	val := e.state.Swap(-1)
	for ; val > 0; val-- {
		w, ok := e.waiters.Dequeue()
		if !ok {
			panic("syncx: event waiter count positive but its queue was empty")
		}
		observeResumed(e.svc, "event", false)
		e.svc.Resume(w)
	}
}

// Reset clears the signalled state. It is a no-op if the event is not
// currently signalled.
func (e *Event) Reset() {
	e.state.CompareAndSwap(-1, 0)
}

// Wait blocks c until the event is signalled, returning immediately if
// it already is.
func (e *Event) Wait(c *service.Coro) {
	if e.state.Load() == -1 {
		return
	}
	observeBlocked(e.svc, "event")
	c.Suspend(func() {
		self := c.Coroutine()
		e.waiters.Enqueue(self)

		becameActive := false
		for {
			cur := e.state.Load()
			if cur == -1 {
				becameActive = true
				break
			}
			if e.state.CompareAndSwap(cur, cur+1) {
				break
			}
		}
		if becameActive {
			w, ok := e.waiters.Dequeue()
			if !ok {
				panic("syncx: event became active but its waiter queue was empty")
			}
			observeResumed(e.svc, "event", false)
			directTransfer(self.Info(), w)
		}
	})
}
