package constants

import "time"

// Default Service tuning constants.
const (
	// DefaultDeleterSlots is the default Config.DeleterSlots: the number
	// of epoch slots the deferred deleters behind the service's ready
	// queue and descriptor registry reserve, i.e. the maximum number of
	// readers that can hold an epoch concurrently before Acquire starts
	// spinning. One slot per worker thread is the common case; we default
	// generously since a slot is just one cache line. The waiter queues in
	// descriptor and syncx are built with 8 slots each instead.
	DefaultDeleterSlots = 64

	// DefaultClearEvery is a ClearIfNeeded amortization factor callers may
	// pass to lockfree.NewDeleter (Clear() then runs once every
	// DefaultClearEvery calls). The deleters inside lockfree.Queue and
	// lockfree.Stack do not use it: they are built with a factor of 1.
	DefaultClearEvery = 16

	// DefaultReadyQueueDrainBatch caps how many ready coroutines a single
	// worker drains from the ready queue before re-checking the reactor,
	// so one busy worker can't starve epoll wait indefinitely.
	DefaultReadyQueueDrainBatch = 64

	// DefaultReactorMaxEvents is the epoll_wait batch size.
	DefaultReactorMaxEvents = 256

	// DefaultIOBufferSize is a scratch-buffer size for socket reads.
	// descriptor allocates no buffers of its own (ExecuteIO callers
	// supply them); apart from the root package's re-export, nothing in
	// this module uses it.
	DefaultIOBufferSize = 64 * 1024
)

// Timing constants.
const (
	// DefaultReactorWaitTimeout bounds a single epoll_wait call, so a
	// worker periodically re-checks the stop flag even on an otherwise
	// idle reactor.
	DefaultReactorWaitTimeout = 250 * time.Millisecond

	// DefaultStopPollInterval is how often Service.Stop re-checks that the
	// coroutine and worker counts have reached zero while winding down.
	DefaultStopPollInterval = time.Millisecond
)
