// Package syncx implements the runtime's coroutine-suspending
// synchronization primitives: Mutex, SharedMutex, Semaphore, Event, and
// Timer. All five follow the same design pattern — an atomic state word
// plus a lock-free waiter queue — described in
// original_source/CppProjects/Proj/src/CoroSrv/Sync.cpp: "blocking" a
// coroutine means installing a deferred task that pushes the current
// coroutine onto the queue and recomputes the state with a CAS loop; if
// the recomputation reveals the primitive actually became available in
// the gap, the coroutine resumes itself (or another waiter) via a direct
// symmetric transfer instead of waiting for the ready queue.
//
// Every blocking method takes a *service.Coro explicitly, the same
// handle descriptor.ExecuteIO takes, since this runtime has no implicit
// per-thread "current coroutine" to recover one from.
package syncx

import (
	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/service"
)

// directTransfer resumes w by symmetric transfer from the calling
// worker's own info — used whenever a waiter is woken from inside
// another coroutine's deferred Suspend closure, which always runs on
// the worker's main coroutine. w is not necessarily the coroutine that
// is currently suspending (e.g. one of several readers queued on the
// same Mutex), so it must be rebound to this worker via BindInfo before
// SwitchTo, exactly as Service.Run's dispatch loop rebinds every
// coroutine it dequeues before switching to it — otherwise w would be
// switched into from whatever *coro.Info it was bound to the last time
// it ran, which may belong to a different worker goroutine entirely.
// info.RunDeferred afterward honors whatever continuation w itself
// installs on its very next suspend, mirroring the contract
// Service.Run's own dispatch loop upholds after every SwitchTo.
func directTransfer(info *coro.Info, w *coro.Coroutine) {
	w.BindInfo(info)
	info.Main.SwitchTo(info, w)
	info.RunDeferred()
}

func observeBlocked(svc *service.Service, class string) {
	if obs := svc.Observer(); obs != nil {
		obs.ObserveWaiterBlocked(class)
	}
}

func observeResumed(svc *service.Service, class string, aborted bool) {
	if obs := svc.Observer(); obs != nil {
		obs.ObserveWaiterResumed(class, aborted)
	}
}
