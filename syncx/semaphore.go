package syncx

import (
	"sync/atomic"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

// Semaphore is a coroutine-suspending counting semaphore. Grounded on
// Semaphore::Push/Pop in Sync.cpp, including its "peek" resolution of
// the race where Pop decides to enqueue just as Push decides to
// increment the counter instead of handing off directly: Push always
// tries the waiter queue before touching the counter, and if it adds a
// waiter back to the queue after losing that race, the waiter simply
// gets picked up by whichever Push or Pop drains the queue next.
type Semaphore struct {
	svc     *service.Service
	counter atomic.Int64
	waiters *lockfree.Queue[*coro.Coroutine]
}

// NewSemaphore builds a Semaphore with the given initial count.
func NewSemaphore(svc *service.Service, initial int64) *Semaphore {
	s := &Semaphore{svc: svc, waiters: lockfree.NewQueue[*coro.Coroutine](8)}
	s.counter.Store(initial)
	return s
}

func (s *Semaphore) tryDecrement() bool {
	for {
		cur := s.counter.Load()
		if cur <= 0 {
			return false
		}
		if s.counter.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Push increments the semaphore, or, if a coroutine is already waiting,
// hands the increment straight to the front of the queue instead.
// Push needs no coroutine handle — it may be called from any context,
// including outside a coroutine entirely.
func (s *Semaphore) Push() {
	if w, ok := s.waiters.Dequeue(); ok {
		observeResumed(s.svc, "semaphore", false)
		s.svc.Resume(w)
		return
	}

	s.counter.Add(1)
	w, ok := s.waiters.Dequeue()
	if !ok {
		return
	}

	if s.tryDecrement() {
		observeResumed(s.svc, "semaphore", false)
		s.svc.Resume(w)
		return
	}

	// Someone else already consumed the increment between our Dequeue
	// and our tryDecrement; the waiter we pulled off still needs to
	// wait, so put it back at the tail.
	s.waiters.Enqueue(w)
}

// Pop decrements the semaphore, suspending c until the count is
// positive.
func (s *Semaphore) Pop(c *service.Coro) {
	if s.tryDecrement() {
		return
	}
	observeBlocked(s.svc, "semaphore")
	c.Suspend(func() {
		self := c.Coroutine()
		s.waiters.Enqueue(self)
		if !s.tryDecrement() {
			return
		}
		w, ok := s.waiters.Dequeue()
		if !ok {
			panic("syncx: semaphore decremented but its waiter queue was empty")
		}
		observeResumed(s.svc, "semaphore", false)
		directTransfer(self.Info(), w)
	})
}
