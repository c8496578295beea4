package coro

// Info is the per-worker context every coroutine operation needs: which
// coroutine is logically "current" on this worker, the worker's main
// coroutine (the reactor-wait loop itself) and cleanup coroutine (which
// disposes of finished coroutines), and a one-shot deferred task a
// suspending coroutine leaves for main to run once control returns to it.
//
// This is the Go-idiomatic replacement for the original runtime's
// thread-local storage: Go has no per-OS-thread storage a goroutine can
// rely on (goroutines aren't threads, and aren't pinned to one unless
// explicitly locked), so instead of a hidden TLS slot, every coroutine
// operation takes an explicit *Info, obtained from Coroutine.Info(). The
// worker dispatch loop owns the only *Info instance per worker and
// rebinds it onto whichever coroutine it is about to resume.
type Info struct {
	Current  *Coroutine
	Main     *Coroutine
	Cleanup  *Coroutine
	Deferred func()
}

// RunDeferred invokes and clears whatever deferred task a coroutine
// installed via Suspend before transferring away. Every SwitchTo call
// that resumes control on the caller's own coroutine (main's dispatch
// loop, or a nested direct transfer performed by descriptor/syncx from
// inside another deferred task) must be followed by RunDeferred so the
// continuation the suspended coroutine asked for actually runs.
func (info *Info) RunDeferred() {
	if info.Deferred == nil {
		return
	}
	d := info.Deferred
	info.Deferred = nil
	d()
}
