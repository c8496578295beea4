package syncx

import (
	"sync/atomic"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

// sharedMutex state word layout, identical to Sync.cpp's MakeStateMask:
// bit 63 is the exclusive-held flag, bits 62-42 (21 bits) count
// exclusive waiters, bits 41-21 (21 bits) count shared holders, and
// bits 20-0 (21 bits) count shared waiters. Packing all four counters
// into one word lets every transition happen with a single CAS instead
// of coordinating several fields.
const (
	exclusiveFlag = uint64(1) << 63
	fieldBits     = 21
	fieldMask     = uint64(1)<<fieldBits - 1
)

func exclusiveCaptured(s uint64) bool  { return s&exclusiveFlag != 0 }
func exclusiveWaiters(s uint64) uint64 { return (s >> 42) & fieldMask }
func sharedHolders(s uint64) uint64    { return (s >> 21) & fieldMask }
func sharedWaiters(s uint64) uint64    { return s & fieldMask }

// exclusiveFree reports that nobody holds, or is waiting for, the
// exclusive lock — the condition under which a fresh shared-lock
// attempt may proceed immediately.
func exclusiveFree(s uint64) bool { return s>>42 == 0 }

func packState(captured bool, excWaiters, shared, sharedWait uint64) uint64 {
	s := uint64(0)
	if captured {
		s = exclusiveFlag
	}
	s |= (excWaiters & fieldMask) << 42
	s |= (shared & fieldMask) << 21
	s |= sharedWait & fieldMask
	return s
}

// SharedMutex is a coroutine-suspending reader/writer lock with
// writer-preference fairness: once a writer is waiting, no new reader
// may join ahead of it. Grounded on SharedMutex::Lock/SharedLock/Unlock
// in Sync.cpp.
type SharedMutex struct {
	svc        *service.Service
	state      atomic.Uint64
	exclusiveQ *lockfree.Queue[*coro.Coroutine]
	sharedQ    *lockfree.Queue[*coro.Coroutine]
}

// NewSharedMutex builds an unlocked SharedMutex.
func NewSharedMutex(svc *service.Service) *SharedMutex {
	return &SharedMutex{
		svc:        svc,
		exclusiveQ: lockfree.NewQueue[*coro.Coroutine](8),
		sharedQ:    lockfree.NewQueue[*coro.Coroutine](8),
	}
}

// TryLock attempts to acquire the exclusive lock without blocking.
func (m *SharedMutex) TryLock() bool {
	return m.state.CompareAndSwap(0, exclusiveFlag)
}

// Lock acquires the exclusive lock, suspending c if it is contended.
func (m *SharedMutex) Lock(c *service.Coro) {
	if m.TryLock() {
		return
	}
	observeBlocked(m.svc, "sharedmutex-exclusive")
	c.Suspend(func() {
		self := c.Coroutine()
		m.exclusiveQ.Enqueue(self)

		captured := false
		for {
			cur := m.state.Load()
			var next uint64
			if cur == 0 {
				captured = true
				next = exclusiveFlag
			} else {
				captured = false
				next = packState(exclusiveCaptured(cur), exclusiveWaiters(cur)+1, sharedHolders(cur), sharedWaiters(cur))
			}
			if m.state.CompareAndSwap(cur, next) {
				break
			}
		}
		if captured {
			m.awaken(self.Info(), true, false)
		}
	})
}

// TrySharedLock attempts to acquire a shared lock without blocking. It
// fails whenever the exclusive lock is held or contended, preserving
// writer-preference fairness.
func (m *SharedMutex) TrySharedLock() bool {
	for {
		cur := m.state.Load()
		if !exclusiveFree(cur) {
			return false
		}
		next := packState(false, 0, sharedHolders(cur)+1, 0)
		if m.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// SharedLock acquires a shared lock, suspending c if the exclusive lock
// is held or has waiters.
func (m *SharedMutex) SharedLock(c *service.Coro) {
	if m.TrySharedLock() {
		return
	}
	observeBlocked(m.svc, "sharedmutex-shared")
	c.Suspend(func() {
		self := c.Coroutine()
		m.sharedQ.Enqueue(self)

		captured := false
		for {
			cur := m.state.Load()
			var next uint64
			if exclusiveFree(cur) {
				captured = true
				next = packState(false, 0, sharedHolders(cur)+1, 0)
			} else {
				captured = false
				next = packState(exclusiveCaptured(cur), exclusiveWaiters(cur), sharedHolders(cur), sharedWaiters(cur)+1)
			}
			if m.state.CompareAndSwap(cur, next) {
				break
			}
		}
		if captured {
			m.awaken(self.Info(), false, false)
		}
	})
}

// Unlock releases whichever lock (exclusive or shared) is currently
// held. Releasing the last shared holder while a writer waits hands the
// exclusive lock straight to that writer; releasing the exclusive lock
// with no writer waiting wakes every queued reader at once.
func (m *SharedMutex) Unlock() {
	cur := m.state.Load()
	var wakeShared int64
	var wakeExclusive bool

	if exclusiveCaptured(cur) {
		for {
			var next uint64
			if exclusiveWaiters(cur) == 0 {
				wakeShared = int64(sharedWaiters(cur))
				next = packState(false, 0, uint64(wakeShared), 0)
			} else {
				wakeExclusive = true
				next = packState(true, exclusiveWaiters(cur)-1, 0, sharedWaiters(cur))
			}
			if m.state.CompareAndSwap(cur, next) {
				break
			}
			cur = m.state.Load()
		}
	} else {
		for {
			holders := sharedHolders(cur)
			excWaiters := exclusiveWaiters(cur)
			shWaiters := sharedWaiters(cur)
			var next uint64
			if holders == 1 && excWaiters > 0 {
				wakeExclusive = true
				next = packState(true, excWaiters-1, 0, shWaiters)
			} else {
				next = packState(false, excWaiters, holders-1, shWaiters)
			}
			if m.state.CompareAndSwap(cur, next) {
				break
			}
			cur = m.state.Load()
		}
	}

	for i := int64(0); i < wakeShared; i++ {
		m.awaken(nil, false, true)
	}
	if wakeExclusive {
		m.awaken(nil, true, true)
	}
}

// awaken wakes one waiter of the given class. byPost is true when called
// from Unlock, which runs outside any coroutine's Suspend closure and so
// always posts to the ready queue; info is the calling worker's own
// *coro.Info and is only used (and only needed) on the direct-transfer
// path, where it must be bound onto the dequeued waiter before SwitchTo
// since that waiter is not necessarily the coroutine currently
// suspending.
func (m *SharedMutex) awaken(info *coro.Info, exclusive, byPost bool) {
	q := m.sharedQ
	class := "sharedmutex-shared"
	if exclusive {
		q = m.exclusiveQ
		class = "sharedmutex-exclusive"
	}
	w, ok := q.Dequeue()
	if !ok {
		panic("syncx: sharedmutex woke a waiter class with an empty queue")
	}
	observeResumed(m.svc, class, false)
	if byPost {
		m.svc.Resume(w)
		return
	}
	directTransfer(info, w)
}
