package service

import "github.com/ehrlich-b/corosrv/coro"

// Coro is the handle a spawned task's body receives, replacing the
// original runtime's implicit get_current_coro()/thread-local lookup:
// Go has no notion of "the coroutine the calling goroutine happens to be
// running" outside of values explicitly passed in, so Go/Yield/Coroutine
// are methods on this handle rather than free functions reading hidden
// per-thread state. NotInsideSrvCoro is therefore not a runtime check
// here — it is structurally unreachable, since a Coro can only be
// obtained from inside a task body a Service itself invoked.
type Coro struct {
	self *coro.Coroutine
	svc  *Service
}

// Coroutine returns the underlying coroutine handle.
func (c *Coro) Coroutine() *coro.Coroutine { return c.self }

// Go spawns a sibling coroutine without suspending the caller, mirroring
// the original's Go(task, stack_size). It fails with SrvStop once the
// owning service is stopping.
func (c *Coro) Go(task func(c *Coro)) error {
	return c.svc.AddCoro(task)
}

// Suspend installs deferred as the pending continuation and transfers
// control to the worker's main coroutine, not returning until some later
// call resumes c.self again. descriptor.ExecuteIO and every syncx
// primitive build their blocking operations on this; it is the Go
// replacement for the original's implicit "suspend the current fiber"
// primitive, made explicit because Go has no hidden per-thread coroutine
// state to suspend on the caller's behalf.
func (c *Coro) Suspend(deferred func()) {
	c.self.Suspend(c.self.Info(), deferred)
}

// Yield re-posts the current coroutine to the ready queue and suspends —
// it resumes (possibly on a different worker) once the ready queue
// reaches it again.
func (c *Coro) Yield() {
	self := c.self
	svc := c.svc
	c.Suspend(func() {
		svc.post(self)
	})
}
