// Package coro implements the runtime's stackful, symmetric-transfer
// coroutine primitive. Go has no ucontext/fiber equivalent and no stable
// thread-local storage, so this is a from-scratch redesign rather than a
// port: each Coroutine is backed by one goroutine parked on an unbuffered
// "baton" channel whenever it is not the one running, which gives "at
// most one coroutine runs at a time" its teeth without any assembly.
// Grounded on the shape independently arrived at by
// other_examples/bd29511b_nvlled-carrot__coroutine.go.go (a driving loop
// handing control to a goroutine over a channel and waiting for it to
// hand control back).
package coro

import (
	"errors"
	"sync/atomic"
)

// Sentinel errors for the programmer-error preconditions around
// construction and destruction. Callers panic with these; they are never
// returned as a recoverable error value, matching the taxonomy's rule that
// these specific kinds are bugs, not runtime conditions.
var (
	ErrCoroToCoro         = errors.New("coro: a thread already has a main coroutine bound")
	ErrFromThreadToCoro   = errors.New("coro: operation requires the calling thread's own main coroutine")
	ErrCoroutineRunning   = errors.New("coro: cannot destroy a coroutine that has not finished")
	ErrSuccessorUnset     = errors.New("coro: task returned without naming a successor coroutine")
	ErrSuccessorUnusable  = errors.New("coro: successor coroutine is already running or has finished")
)

var idGen atomic.Uint64

func nextID() uint64 { return idGen.Add(1) }

// Task is the body of a spawned coroutine. It receives the coroutine
// running it (to read Info/bind further state) and must return the
// coroutine execution transfers to once it completes; returning nil is a
// programming error.
type Task func(self *Coroutine) *Coroutine

// Coroutine is a single logical thread of control that may be suspended
// and resumed arbitrarily many times, possibly by different workers, as
// long as never more than one instant of its lifetime is "in progress" at
// once.
type Coroutine struct {
	id         uint64
	inProgress atomic.Bool
	finished   atomic.Bool
	isMain     bool
	baton      chan *Coroutine
	info       *Info
}

// New spawns a coroutine backed by a fresh goroutine. The goroutine parks
// immediately, waiting for its first resume.
func New(task Task) *Coroutine {
	c := &Coroutine{id: nextID(), baton: make(chan *Coroutine)}
	go c.trampoline(task)
	return c
}

func (c *Coroutine) trampoline(task Task) {
	<-c.baton
	next := task(c)
	if next == nil {
		panic(ErrSuccessorUnset)
	}
	c.finished.Store(true)
	c.finishInto(next)
	// This goroutine now exits; c.finished is permanently true, so no
	// future SwitchTo can target it (see the finished check below).
}

// Main captures the calling thread: instead of a spawned goroutine, the
// "coroutine" is the call stack currently executing Main itself. It is an
// error to call Main twice for the same Info (e.g. from inside a
// coroutine that Info already belongs to, or twice on the same worker).
func Main(info *Info) *Coroutine {
	if info.Current != nil {
		panic(ErrCoroToCoro)
	}
	c := &Coroutine{id: nextID(), baton: make(chan *Coroutine), isMain: true}
	c.inProgress.Store(true)
	c.info = info
	info.Current = c
	return c
}

// IsDone reports whether the coroutine's task has returned.
func (c *Coroutine) IsDone() bool { return c.finished.Load() }

// ID is a small debugging handle; it carries no ordering guarantee beyond
// uniqueness.
func (c *Coroutine) ID() uint64 { return c.id }

// Info returns whichever *Info was bound to this coroutine by the worker
// that most recently resumed it. It replaces the pthread-TLS lookup the
// original runtime used: Go exposes no stable per-OS-thread storage a
// goroutine can rely on, and a coroutine may legitimately be resumed by a
// different worker each time it's woken, so the binding is refreshed by
// the dispatcher on every resume rather than fixed at creation.
func (c *Coroutine) Info() *Info { return c.info }

// BindInfo associates info with c; called by a worker's dispatch loop
// immediately before transferring control to c.
func (c *Coroutine) BindInfo(info *Info) { c.info = info }

// SwitchTo symmetrically transfers control from self (assumed to be the
// coroutine executing this call) to target. It returns ok=false without
// blocking if target is already running or has finished. On success, self
// is marked not-running and blocks until some later SwitchTo call (from
// anywhere, not necessarily target) resumes it; prev is whichever
// coroutine made that later call.
func (self *Coroutine) SwitchTo(info *Info, target *Coroutine) (prev *Coroutine, ok bool) {
	if target == self {
		return self, true
	}
	if target.finished.Load() {
		return nil, false
	}
	if !target.inProgress.CompareAndSwap(false, true) {
		return nil, false
	}
	info.Current = target
	self.finishInto(target) // same handoff mechanics; self is not finished, just stepping aside
	prev = <-self.baton
	info.Current = self
	return prev, true
}

// finishInto hands control from self to target without expecting self to
// be resumed again immediately afterward: self clears its own in-progress
// bit and wakes target, then returns (it does not block on its own
// baton). Used by SwitchTo's handoff step and by the trampoline's
// terminal transfer.
func (self *Coroutine) finishInto(target *Coroutine) {
	self.inProgress.Store(false)
	// No CAS here: finishInto's callers (SwitchTo, the trampoline) only
	// ever target a coroutine they already know is idle — SwitchTo by its
	// own CAS above, the trampoline because a worker's cleanup coroutine
	// is only ever resumed by the single coroutine currently running on
	// that worker. A plain store keeps InProgress accurate for
	// inspection without adding contention.
	target.inProgress.Store(true)
	target.baton <- self
}

// Suspend is the primitive every blocking operation (Yield, execute_io,
// the sync primitives) builds on: it installs deferred as the pending
// deferred task on info, then transfers to info.Main. The worker running
// info.Main's dispatch loop is responsible for invoking deferred exactly
// once control returns to it.
func (self *Coroutine) Suspend(info *Info, deferred func()) (prev *Coroutine, ok bool) {
	info.Deferred = deferred
	return self.SwitchTo(info, info.Main)
}

// Close validates and performs coroutine destruction preconditions. The
// main coroutine may only be closed from its own thread while it is still
// Info.Current; a spawned coroutine may only be closed once it has
// finished. Go's GC reclaims the backing goroutine's memory on its own;
// Close exists to enforce these invariants, not to free anything.
func (c *Coroutine) Close(info *Info) {
	if c.isMain {
		if info.Current != c {
			panic(ErrFromThreadToCoro)
		}
		info.Current = nil
		return
	}
	if !c.finished.Load() {
		panic(ErrCoroutineRunning)
	}
}
