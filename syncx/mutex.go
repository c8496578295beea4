package syncx

import (
	"sync/atomic"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

// Mutex is a coroutine-suspending mutual-exclusion lock. Its state is a
// single counter: 0 means free with no contenders, N means held by one
// coroutine with N-1 more queued waiting for it. Grounded directly on Mutex::Lock/
// Unlock in Sync.cpp, which uses the exact same counter trick to avoid
// a separate "held" bit.
type Mutex struct {
	svc      *service.Service
	queueLen atomic.Int64
	waiters  *lockfree.Queue[*coro.Coroutine]
}

// NewMutex builds an unlocked Mutex.
func NewMutex(svc *service.Service) *Mutex {
	return &Mutex{svc: svc, waiters: lockfree.NewQueue[*coro.Coroutine](8)}
}

// TryLock acquires the lock only if it is currently free, without
// blocking.
func (m *Mutex) TryLock() bool {
	return m.queueLen.CompareAndSwap(0, 1)
}

// Lock acquires the lock, suspending c if it is currently held.
func (m *Mutex) Lock(c *service.Coro) {
	if m.TryLock() {
		return
	}
	observeBlocked(m.svc, "mutex")
	c.Suspend(func() {
		self := c.Coroutine()
		m.waiters.Enqueue(self)
		// queueLen was 0 (lock just became free) iff the post-increment
		// value we observe is 1: someone must claim the lock on behalf
		// of whichever waiter is now at the front, which is not
		// necessarily self.
		if m.queueLen.Add(1) == 1 {
			w, ok := m.waiters.Dequeue()
			if !ok {
				panic("syncx: mutex queue empty immediately after a zero-to-one transition")
			}
			observeResumed(m.svc, "mutex", false)
			directTransfer(self.Info(), w)
		}
	})
}

// Unlock releases the lock, waking the next queued waiter if any.
func (m *Mutex) Unlock() {
	if m.queueLen.Add(-1) == 0 {
		return
	}
	w, ok := m.waiters.Dequeue()
	if !ok {
		panic("syncx: mutex has contenders but an empty waiter queue")
	}
	observeResumed(m.svc, "mutex", false)
	m.svc.Resume(w)
}
