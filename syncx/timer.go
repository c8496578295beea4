package syncx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/internal/errs"
	"github.com/ehrlich-b/corosrv/internal/timerqueue"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

type timerWaiter struct {
	co      *coro.Coroutine
	aborted atomic.Bool
}

// Timer is a coroutine-suspending one-shot deadline, built directly on
// internal/timerqueue rather than its own bespoke clock thread.
// Grounded on Timer.cpp's expires_after/wait/cancel contract: only one
// deadline may be pending at a time, wait blocks until it fires (or is
// cancelled), and cancel races the timer queue's own firing through
// timerqueue.CancellableTask's single consumed flag, so exactly one of
// "fired for real" or "cancelled" ever happens per arming.
type Timer struct {
	svc    *service.Service
	timerQ *timerqueue.Queue

	mu   sync.Mutex
	task *timerqueue.CancellableTask

	// armed mirrors descriptor's per-class flag: it is set once fire has
	// run since the last expiresAfter, so a Wait call that loses the race
	// to enqueue before fire drains the queue can notice and drain (what
	// remains of) the queue itself instead of waiting forever.
	armed     atomic.Bool
	cancelled atomic.Bool
	waiters   *lockfree.Queue[*timerWaiter]
}

// NewTimer builds a Timer with no pending deadline.
func NewTimer(svc *service.Service) *Timer {
	return &Timer{svc: svc, timerQ: timerqueue.GetQueue(), waiters: lockfree.NewQueue[*timerWaiter](8)}
}

// ExpiresAfter arms the timer to fire after d. It fails with
// TimerNotExpired if a deadline is already pending.
func (t *Timer) ExpiresAfter(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.task != nil {
		return errs.New("Timer.ExpiresAfter", errs.TimerNotExpired, "timer already has a pending deadline")
	}
	t.armed.Store(false)
	t.cancelled.Store(false)
	t.task = t.timerQ.Schedule(time.Now().Add(d), func() {
		t.fire(false)
	})
	return nil
}

// Cancel aborts the pending deadline, if any, resuming every current
// waiter with OperationAborted instead of letting it expire normally.
// It returns false if there was no pending deadline, or if the deadline
// had already fired before Cancel could claim it.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	task := t.task
	t.mu.Unlock()
	if task == nil {
		return false
	}
	if !task.Cancel() {
		return false
	}
	t.fire(true)
	return true
}

// Close cancels any pending deadline and releases the timer's reference
// to the process-wide timer queue.
func (t *Timer) Close() {
	t.Cancel()
	t.timerQ.Release()
}

// Wait blocks c until the current deadline fires or is cancelled,
// returning OperationAborted in the cancelled case. It returns
// immediately, without suspending, if the timer has already settled
// since the last ExpiresAfter call.
func (t *Timer) Wait(c *service.Coro) error {
	if t.armed.Load() {
		return t.outcome()
	}
	observeBlocked(t.svc, "timer")
	w := &timerWaiter{co: c.Coroutine()}
	c.Suspend(func() {
		t.waiters.Enqueue(w)
		if !t.armed.Load() {
			return
		}
		// fire drained (or started draining) the queue before we
		// enqueued; drain whatever remains ourselves so nothing is left
		// stranded.
		cancelled := t.cancelled.Load()
		for {
			next, ok := t.waiters.Dequeue()
			if !ok {
				return
			}
			next.aborted.Store(cancelled)
			observeResumed(t.svc, "timer", cancelled)
			t.svc.Resume(next.co)
		}
	})
	if w.aborted.Load() {
		return errs.New("Timer.Wait", errs.OperationAborted, "timer was cancelled")
	}
	return nil
}

func (t *Timer) outcome() error {
	if t.cancelled.Load() {
		return errs.New("Timer.Wait", errs.OperationAborted, "timer was cancelled")
	}
	return nil
}

// fire runs on whatever goroutine claimed the task (the timerqueue's own
// background loop for a real expiry, or the caller of Cancel), never
// inside a suspended coroutine's context — so every waiter is woken
// through Service.Resume rather than a direct symmetric transfer.
func (t *Timer) fire(cancelled bool) {
	t.mu.Lock()
	t.task = nil
	t.mu.Unlock()

	if cancelled {
		t.cancelled.Store(true)
	}
	t.armed.Store(true)

	for {
		w, ok := t.waiters.Dequeue()
		if !ok {
			return
		}
		w.aborted.Store(cancelled)
		observeResumed(t.svc, "timer", cancelled)
		t.svc.Resume(w.co)
	}
}
