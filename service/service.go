// Package service implements the runtime's scheduler: a pool of worker
// goroutines, each pinned to an OS thread, cooperatively running
// coroutines pulled from a shared lock-free ready queue and woken by a
// shared epoll-backed reactor. Grounded on
// original_source/CppProjects/Proj/src/CoroSrv/Service.cpp and
// ServiceLinux.cpp for the run/stop/wakeup contract, and on the
// teacher's internal/queue/runner.go for the Go idiom of a per-worker
// goroutine pinned via runtime.LockOSThread with a start-error channel.
package service

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/corosrv/coro"
	"github.com/ehrlich-b/corosrv/internal/constants"
	"github.com/ehrlich-b/corosrv/internal/errs"
	"github.com/ehrlich-b/corosrv/internal/interfaces"
	"github.com/ehrlich-b/corosrv/internal/reactor"
	"github.com/ehrlich-b/corosrv/lockfree"
)

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Service owns the ready queue, reactor, and descriptor registry shared
// by every worker goroutine that calls Run.
type Service struct {
	cfg Config

	state       atomic.Int32
	coroCount   atomic.Int64
	workerCount atomic.Int64

	ready      *lockfree.Queue[*coro.Coroutine]
	Reactor    reactor.Reactor
	registry   *registry
	fdHandlers sync.Map // fd (int) -> func(reactor.Event) *coro.Coroutine
}

// Registration is the handle Service.RegisterDescriptor returns; pass it
// back to UnregisterDescriptor when the descriptor closes. It wraps the
// registry's own entry type so callers outside this package never need to
// name that unexported type.
type Registration struct {
	entry *registryEntry
}

// RegisterDescriptor joins the registry Stop sweeps on shutdown, so a
// descriptor still open when the service stops gets Close called on it.
func (s *Service) RegisterDescriptor(c closer) *Registration {
	return &Registration{entry: s.registry.register(c)}
}

// UnregisterDescriptor reverses RegisterDescriptor.
func (s *Service) UnregisterDescriptor(r *Registration) {
	s.registry.unregister(r.entry)
}

// RegisterFDHandler registers fd with the reactor (with no interest armed;
// the caller arms it afterwards through Reactor.SetInterest) and records
// handler as the callback invoked whenever a worker's dispatch loop
// observes readiness on fd. The handler resumes whichever waiters became runnable and returns
// the one, if any, the dispatch loop should transfer into directly by
// symmetric transfer; every other waiter it wakes itself (typically via
// Resume). Descriptor.Open calls this once per opened kernel fd.
func (s *Service) RegisterFDHandler(fd int, handler func(reactor.Event) *coro.Coroutine) error {
	if err := s.Reactor.Register(fd); err != nil {
		return errs.Wrap("Service.RegisterFDHandler", errs.UnknownError, err)
	}
	s.fdHandlers.Store(fd, handler)
	return nil
}

// UnregisterFDHandler reverses RegisterFDHandler.
func (s *Service) UnregisterFDHandler(fd int) error {
	s.fdHandlers.Delete(fd)
	return s.Reactor.Unregister(fd)
}

// Observer exposes the configured metrics sink to descriptor/syncx, which
// live in separate packages and record waiter/latency events directly
// rather than routing them back through Service.
func (s *Service) Observer() interfaces.Observer { return s.cfg.Observer }

// Logger exposes the configured logger to descriptor/syncx.
func (s *Service) Logger() interfaces.Logger { return s.cfg.Logger }

// New constructs a Service ready to have Run called on it from one or
// more goroutines. The reactor (an epoll instance) is created eagerly so
// construction failures surface immediately rather than inside the first
// Run call.
func New(cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	r, err := reactor.New(cfg.ReactorMaxEvents)
	if err != nil {
		return nil, errs.Wrap("service.New", errs.UnknownError, err)
	}
	return &Service{
		cfg:      cfg,
		ready:    lockfree.NewQueue[*coro.Coroutine](cfg.DeleterSlots),
		Reactor:  r,
		registry: newRegistry(cfg.DeleterSlots, cfg.DescriptorSweepEvery),
	}, nil
}

// Restart flips a stopped (or never-started) service back to runnable,
// returning false if it is currently running or still winding down from
// a prior Stop. Run's own CAS makes this optional before the very first
// Run call; it exists so callers can fail fast instead of discovering
// the service is mid-shutdown only once their first AddCoro returns
// SrvStop.
func (s *Service) Restart() bool {
	return s.state.CompareAndSwap(int32(stateIdle), int32(stateRunning))
}

// Run pins the calling goroutine to an OS thread and executes one
// worker's dispatch loop until the service stops. Multiple goroutines
// may call Run concurrently to form a worker pool; each becomes one
// worker with its own main/cleanup coroutine pair.
func (s *Service) Run() error {
	s.state.CompareAndSwap(int32(stateIdle), int32(stateRunning))
	s.workerCount.Add(1)
	defer s.workerCount.Add(-1)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	info := &coro.Info{}
	main := coro.Main(info)
	defer main.Close(info)

	cleanup := s.newCleanupCoroutine(info)
	info.Main = main
	info.Cleanup = cleanup
	cleanup.BindInfo(info)

	batch := s.cfg.ReadyQueueDrainBatch
	for {
		if state(s.state.Load()) == stateStopping && s.coroCount.Load() == 0 {
			// Give cleanup one last chance to notice the stop condition and
			// retire itself, even if nothing ever finished into it on this
			// worker (e.g. a worker that processed zero coroutines).
			main.SwitchTo(info, cleanup)
			info.RunDeferred()
			return nil
		}

		drained := 0
		for drained < batch {
			c, ok := s.ready.Dequeue()
			if !ok {
				break
			}
			drained++
			c.BindInfo(info)
			main.SwitchTo(info, c)
			info.RunDeferred()
		}
		if drained > 0 {
			continue
		}

		s.registry.sweepIfNeeded()

		events, err := s.Reactor.Wait(s.cfg.ReactorWaitTimeout)
		if err != nil {
			s.cfg.Logger.Errorf("reactor wait: %v", err)
			continue
		}
		for _, ev := range events {
			if ev.Wakeup {
				continue
			}
			if target := s.dispatchReactorEvent(ev); target != nil {
				target.BindInfo(info)
				main.SwitchTo(info, target)
				info.RunDeferred()
			}
		}
	}
}

// newCleanupCoroutine builds the per-worker coroutine responsible for
// disposing of finished coroutines. It never returns on its own — it
// only finishes (naming info.Main as its successor) once the service is
// stopping and no coroutines remain anywhere, which is the one moment a
// finished coroutine can never again target this worker's cleanup.
func (s *Service) newCleanupCoroutine(info *coro.Info) *coro.Coroutine {
	var c *coro.Coroutine
	c = coro.New(func(self *coro.Coroutine) *coro.Coroutine {
		var prev *coro.Coroutine
		for {
			if prev != nil && prev.IsDone() {
				s.coroCount.Add(-1)
				s.cfg.Observer.ObserveCoroutineFinished()
			}
			if state(s.state.Load()) == stateStopping && s.coroCount.Load() == 0 {
				return info.Main
			}
			p, ok := self.SwitchTo(info, info.Main)
			if !ok {
				return info.Main
			}
			prev = p
		}
	})
	return c
}

// post enqueues co and wakes a worker parked in the reactor. Writing to
// the wakeup eventfd while it is already non-zero just adds to its
// counter — one Wait call still only reports a single Wakeup event no
// matter how many posts accumulated, so no separate "pending" flag is
// needed the way a plain pipe byte would require.
func (s *Service) post(co *coro.Coroutine) {
	s.ready.Enqueue(co)
	s.cfg.Observer.ObserveReadyQueueDepth(1)
	_ = s.Reactor.Wakeup()
}

// Resume re-posts co to the ready queue from outside any coroutine
// context — used by descriptor/syncx waiter queues to wake a coroutine
// that isn't being chosen for a direct symmetric transfer (the reactor
// callback posts every waiter but the one it transfers into; close/cancel
// posts all of them).
func (s *Service) Resume(co *coro.Coroutine) {
	s.post(co)
}

// AddCoro spawns a coroutine from outside any running coroutine (e.g. to
// bootstrap the first work before calling Run), returning SrvStop if the
// service is stopping or stopped.
func (s *Service) AddCoro(task func(c *Coro)) error {
	if state(s.state.Load()) == stateStopping {
		return errs.New("Service.AddCoro", errs.SrvStop, "service is stopping")
	}
	s.spawn(task)
	return nil
}

func (s *Service) spawn(task func(c *Coro)) *coro.Coroutine {
	s.coroCount.Add(1)
	s.cfg.Observer.ObserveCoroutineSpawned()
	co := coro.New(func(self *coro.Coroutine) *coro.Coroutine {
		task(&Coro{self: self, svc: s})
		return self.Info().Cleanup
	})
	s.post(co)
	return co
}

// Stop requests termination: new AddCoro/Go calls fail with SrvStop,
// every registered descriptor is closed (cancelling its waiters with
// OperationAborted), and Stop blocks until every coroutine has finished
// and every worker has returned from Run. It returns false if the
// service was already stopped.
func (s *Service) Stop() bool {
	if !s.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return false
	}
	s.registry.closeAll()
	_ = s.Reactor.Wakeup()

	for s.coroCount.Load() != 0 || s.workerCount.Load() != 0 {
		_ = s.Reactor.Wakeup()
		time.Sleep(constants.DefaultStopPollInterval)
	}
	s.state.Store(int32(stateIdle))
	return true
}

// RunWorkers starts n workers concurrently and blocks until every one
// returns, supervising them the way the teacher supervises its queue
// runners: one errgroup.Group, one Run call per goroutine, first non-nil
// error wins. ctx cancellation has no direct effect on Run (the
// coroutine runtime only stops via Stop), but is threaded through so a
// caller can tie worker-pool lifetime to its own shutdown signal.
func (s *Service) RunWorkers(ctx context.Context, n int) error {
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(s.Run)
	}
	return g.Wait()
}

func (s *Service) dispatchReactorEvent(ev reactor.Event) *coro.Coroutine {
	handler, ok := s.fdHandlers.Load(ev.FD)
	if !ok {
		return nil
	}
	return handler.(func(reactor.Event) *coro.Coroutine)(ev)
}
