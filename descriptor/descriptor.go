// Package descriptor implements BasicDescriptor, the non-blocking-fd
// binding every socket-like type in this runtime is built on: it turns
// EAGAIN-looping kernel I/O into code a coroutine can call as if it
// blocked. Grounded on
// original_source/CppProjects/Proj/src/CoroSrv/BasicDescriptorLinux.cpp's
// ExecuteIoTask for the two-phase "clear the armed flag, push the waiter,
// recheck the flag" protocol that closes the lost-wakeup race inherent to
// edge-triggered readiness notification.
package descriptor

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/internal/errs"
	"github.com/ehrlich-b/corosrv/internal/reactor"
	"github.com/ehrlich-b/corosrv/internal/timerqueue"
	"github.com/ehrlich-b/corosrv/lockfree"
	"github.com/ehrlich-b/corosrv/service"
)

// OpClass selects which of a descriptor's three independent waiter queues
// and reactor interest bits an ExecuteIO call uses. The original runtime
// gave each class its own sub-epoll so a blocked reader could never be
// starved by writer traffic on the same fd; this runtime keeps that
// guarantee with one combined epoll registration and three queues
// instead (see internal/reactor's package doc).
type OpClass int

const (
	ClassRead OpClass = iota
	ClassWrite
	ClassPriority
	numClasses
)

func (c OpClass) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	case ClassPriority:
		return "priority"
	default:
		return "unknown"
	}
}

// waiter is the record a suspended ExecuteIO call installs on a class's
// queue. settled is the single CAS gate deciding which of the three ways
// a waiter can be woken — a reactor firing, a Close/Cancel sweep, or a
// per-call timeout — actually gets to resume it; the others become no-ops
// instead of racing to resume it twice. This is the same flag-and-sweep
// idiom the descriptor registry and CancellableTask already use.
type waiter struct {
	co           *coro.Coroutine
	wasCancelled atomic.Bool
	settled      atomic.Bool
}

// resolve claims w for resumption exactly once; callers ignore w entirely
// if they lose the race.
func (w *waiter) resolve(abort bool) bool {
	if !w.settled.CompareAndSwap(false, true) {
		return false
	}
	if abort {
		w.wasCancelled.Store(true)
	}
	return true
}

type classState struct {
	// armed means the reactor has observed readiness for this class since
	// the last time an ExecuteIO caller consumed that observation. Swap(false)
	// both reads and clears it in one step, which is what closes the race
	// described in BasicDescriptorLinux.cpp: a caller that finds it was
	// already true resumes immediately instead of queueing and waiting for
	// a kernel edge that already happened.
	armed atomic.Bool
	queue *lockfree.Queue[*waiter]
}

// BasicDescriptor binds one non-blocking kernel fd to a Service's reactor.
// It is the abstract base every socket wrapper in this runtime embeds.
type BasicDescriptor struct {
	svc *service.Service

	// mu guards the fd/open transition exactly the way the original's
	// shared/exclusive DS lock does: ExecuteIO takes RLock to read fd,
	// Open/Close/Cancel take Lock to flip it.
	mu   sync.RWMutex
	fd   int
	open bool

	classes [numClasses]classState
	reg     *service.Registration
	timerQ  *timerqueue.Queue
}

// New constructs a BasicDescriptor bound to svc. It has no kernel fd until
// Open succeeds.
func New(svc *service.Service) *BasicDescriptor {
	d := &BasicDescriptor{svc: svc, fd: -1}
	for i := range d.classes {
		d.classes[i].queue = lockfree.NewQueue[*waiter](8)
	}
	return d
}

// IsOpen reports whether the descriptor currently owns a live fd.
func (d *BasicDescriptor) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

// Open fails AlreadyOpen if already open. openFn creates the underlying
// kernel fd (expected to already be, or to be made, non-blocking); Open
// registers it with the service's reactor and arms every interest class up
// front, since this runtime's single combined epoll registration (unlike
// the original's per-class EPOLLONESHOT re-arm) never needs to change
// after Open.
func (d *BasicDescriptor) Open(openFn func() (fd int, err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return errs.New("BasicDescriptor.Open", errs.AlreadyOpen, "descriptor already open")
	}

	fd, err := openFn()
	if err != nil {
		return errs.Wrap("BasicDescriptor.Open", errs.UnknownError, err)
	}
	if err := d.svc.RegisterFDHandler(fd, d.onReactorEvent); err != nil {
		_ = syscall.Close(fd)
		return errs.Wrap("BasicDescriptor.Open", errs.UnknownError, err)
	}
	interest := reactor.InterestRead | reactor.InterestWrite | reactor.InterestPriority
	if err := d.svc.Reactor.SetInterest(fd, interest); err != nil {
		_ = d.svc.UnregisterFDHandler(fd)
		_ = syscall.Close(fd)
		return errs.Wrap("BasicDescriptor.Open", errs.UnknownError, err)
	}

	d.fd = fd
	d.open = true
	d.reg = d.svc.RegisterDescriptor(d)
	d.timerQ = timerqueue.GetQueue()
	return nil
}

// Close is idempotent: it drains every waiter queue with OperationAborted,
// then closes the kernel fd. Calling Close on an already-closed descriptor
// is a no-op, matching the original's idempotence contract.
func (d *BasicDescriptor) Close() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	fd := d.fd
	d.open = false
	d.fd = -1
	timerQ := d.timerQ
	d.timerQ = nil
	d.mu.Unlock()

	d.abortAll()

	_ = d.svc.UnregisterFDHandler(fd)
	if d.reg != nil {
		d.svc.UnregisterDescriptor(d.reg)
		d.reg = nil
	}
	if timerQ != nil {
		timerQ.Release()
	}
	return syscall.Close(fd)
}

// Cancel aborts every outstanding waiter exactly like Close, but leaves
// the kernel fd open and registered so a fresh ExecuteIO call can resume
// using it.
func (d *BasicDescriptor) Cancel() error {
	d.mu.RLock()
	open := d.open
	d.mu.RUnlock()
	if !open {
		return errs.New("BasicDescriptor.Cancel", errs.NotOpen, "descriptor not open")
	}
	d.abortAll()
	return nil
}

func (d *BasicDescriptor) abortAll() {
	for class := OpClass(0); class < numClasses; class++ {
		st := &d.classes[class]
		for {
			w, ok := st.queue.Dequeue()
			if !ok {
				break
			}
			if w.resolve(true) {
				d.svc.Resume(w.co)
				d.observe(class, true)
			}
		}
	}
}

func (d *BasicDescriptor) observe(class OpClass, aborted bool) {
	if obs := d.svc.Observer(); obs != nil {
		obs.ObserveWaiterResumed(class.String(), aborted)
	}
}

// ExecuteIO is the central primitive: it calls task repeatedly, folding
// EINTR into an in-place retry and EAGAIN/EWOULDBLOCK into a suspend until
// the reactor (or a timeout, or a Close/Cancel) wakes the class's waiter
// queue again. c identifies the calling coroutine — this runtime has no
// implicit "current coroutine" lookup (see service.Coro's doc comment),
// so ExecuteIO takes the same explicit handle every spawned task body
// receives. A positive timeout bounds each individual suspend; the
// deadline is enforced through the same timerqueue.CancellableTask
// mechanism Timer uses, so it can only ever fire the one waiter it was
// scheduled for, never the whole queue.
func (d *BasicDescriptor) ExecuteIO(c *service.Coro, class OpClass, task func(fd int) (int, syscall.Errno), timeout time.Duration) (int, error) {
	started := time.Now()
	n, err := d.executeIO(c, class, task, timeout)
	if obs := d.svc.Observer(); obs != nil {
		obs.ObserveExecuteIOLatency(uint64(time.Since(started).Nanoseconds()))
	}
	return n, err
}

func (d *BasicDescriptor) executeIO(c *service.Coro, class OpClass, task func(fd int) (int, syscall.Errno), timeout time.Duration) (int, error) {
	for {
		// The shared lock is held across the task() call itself, not just
		// the fd snapshot: task() is non-blocking (it always returns
		// immediately, EAGAIN included), and holding it this long is what
		// lets Close's exclusive lock double as "wait for every in-flight
		// syscall on this fd to finish before actually closing it" rather
		// than racing a close against a live read.
		d.mu.RLock()
		if !d.open {
			d.mu.RUnlock()
			return 0, errs.New("BasicDescriptor.ExecuteIO", errs.NotOpen, "descriptor not open")
		}
		fd := d.fd
		timerQ := d.timerQ
		n, errno := retryEINTR(fd, task)
		d.mu.RUnlock()

		if errno == 0 {
			return n, nil
		}
		if errno != syscall.EAGAIN && errno != syscall.EWOULDBLOCK {
			return n, errs.FromErrno("BasicDescriptor.ExecuteIO", errno)
		}

		w := &waiter{co: c.Coroutine()}
		var deadline *timerqueue.CancellableTask
		if timeout > 0 && timerQ != nil {
			deadline = timerQ.Schedule(time.Now().Add(timeout), func() {
				if w.resolve(true) {
					d.svc.Resume(w.co)
					d.observe(class, true)
				}
			})
		}

		if obs := d.svc.Observer(); obs != nil {
			obs.ObserveWaiterBlocked(class.String())
		}
		c.Suspend(func() {
			d.onSuspend(class, w)
		})
		if deadline != nil {
			deadline.Cancel()
		}

		if w.wasCancelled.Load() {
			return 0, errs.New("BasicDescriptor.ExecuteIO", errs.OperationAborted, "operation aborted by cancel, close, or timeout")
		}
	}
}

func retryEINTR(fd int, task func(fd int) (int, syscall.Errno)) (int, syscall.Errno) {
	for {
		n, errno := task(fd)
		if errno != syscall.EINTR {
			return n, errno
		}
	}
}

// onSuspend runs as the deferred continuation installed by Suspend, on
// the worker's main coroutine. It is the two-phase "clear the armed flag,
// push the waiter, recheck the flag" protocol from
// BasicDescriptorLinux.cpp's ExecuteIoTask: if the reactor already fired
// for this class since the last consumption, resume immediately; else
// enqueue and recheck, in case the reactor fired in the gap between the
// two checks. Either way, resuming the chosen waiter is a direct
// symmetric transfer (main is, by construction, the coroutine currently
// executing this closure), followed by RunDeferred so any continuation
// that resumed waiter itself installs is honored before this call
// returns — exactly the same contract Service.Run's own dispatch loop
// upholds after every SwitchTo.
func (d *BasicDescriptor) onSuspend(class OpClass, w *waiter) {
	st := &d.classes[class]
	info := w.co.Info()

	if st.armed.Swap(false) {
		if w.resolve(false) {
			d.observe(class, false)
			info.Main.SwitchTo(info, w.co)
			info.RunDeferred()
		}
		return
	}

	st.queue.Enqueue(w)
	if !st.armed.Swap(false) {
		return
	}

	var direct *waiter
	for {
		next, ok := st.queue.Dequeue()
		if !ok {
			break
		}
		if !next.resolve(false) {
			continue
		}
		d.observe(class, false)
		if direct == nil {
			direct = next
			continue
		}
		d.svc.Resume(next.co)
	}
	if direct != nil {
		// direct is whichever waiter won the settle race, not necessarily
		// w.co (self) — e.g. several readers blocked on the same fd, all
		// draining this queue together. It must be rebound onto this
		// worker's info before SwitchTo, the same way Service.Run's
		// dispatch loop rebinds every coroutine it dequeues immediately
		// before switching to it; otherwise it would be switched into from
		// whatever *coro.Info it was bound to the last time it ran, which
		// may belong to a different worker goroutine entirely.
		direct.co.BindInfo(info)
		info.Main.SwitchTo(info, direct.co)
		info.RunDeferred()
	}
}

// onReactorEvent is the fd handler Open registers with the service. It
// fires every class the event indicates readiness (or error/hangup) for,
// draining that class's waiter queue and resuming every waiter it wins
// the settle race for. Of all the waiters resumed across this call, the
// very first one is returned for the dispatch loop to transfer into
// directly by symmetric transfer (matching the original's "resume one
// waiter directly, post the rest" reactor-callback contract); every other
// waiter is woken through Service.Resume.
func (d *BasicDescriptor) onReactorEvent(ev reactor.Event) *coro.Coroutine {
	var direct *coro.Coroutine
	fire := func(class OpClass) {
		st := &d.classes[class]
		st.armed.Store(true)
		for {
			w, ok := st.queue.Dequeue()
			if !ok {
				return
			}
			if !w.resolve(false) {
				continue
			}
			d.observe(class, false)
			if direct == nil {
				direct = w.co
				continue
			}
			d.svc.Resume(w.co)
		}
	}
	failed := ev.Err != nil || ev.Hangup
	if ev.Read || failed {
		fire(ClassRead)
	}
	if ev.Write || failed {
		fire(ClassWrite)
	}
	if ev.Priority {
		fire(ClassPriority)
	}
	return direct
}
