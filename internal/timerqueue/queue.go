// Package timerqueue implements the runtime's process-wide deadline
// queue: a single background goroutine orders pending deadlines with a
// binary heap and fires each CancellableTask no earlier than its
// deadline, while Cancel and firing race safely against each other
// through one atomic "consumed" flag per task. New deadlines are
// appended to a lock-free ingestion list (lockfree.ForwardList) rather
// than taken straight into the heap under a lock, so Schedule never
// contends with the background goroutine mid-fire; the goroutine drains
// the list into the heap at the top of every loop iteration.
//
// Grounded on original_source's CoroSrv/Timer.cpp for the
// cancel-races-fire semantics (exactly one of Cancel/fire wins, neither
// blocks waiting for the other), the teacher's lazy-singleton pattern
// (Default()/SetDefault() in internal/logging) for the process-wide
// GetQueue()/Release() reference-counted lifecycle, and
// lockfree.ForwardList's TryPush (push iff the list was empty) for the
// "only wake the background goroutine on the empty-to-nonempty
// transition" rule shared with every other waiter queue in this runtime
// (Mutex.Lock's queueLen.Add(1)==1 check is the same idiom).
package timerqueue

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/corosrv/lockfree"
)

// CancellableTask wraps a single scheduled callback. Cancel and the
// queue's own firing both attempt to flip the same atomic flag from
// "pending" to "consumed"; whichever succeeds is the one that actually
// runs (or skips) the callback, so a Cancel racing a firing timer can
// never observe a torn half-fired state.
type CancellableTask struct {
	consumed atomic.Bool
	fn       func()
}

// NewCancellableTask wraps fn for scheduling.
func NewCancellableTask(fn func()) *CancellableTask {
	return &CancellableTask{fn: fn}
}

// Cancel attempts to prevent fn from ever running. It returns true if this
// call won the race (fn will not run), false if fn already fired or was
// already cancelled.
func (t *CancellableTask) Cancel() bool {
	return t.consumed.CompareAndSwap(false, true)
}

func (t *CancellableTask) fire() {
	if t.consumed.CompareAndSwap(false, true) {
		t.fn()
	}
}

type entry struct {
	deadline time.Time
	task     *CancellableTask
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a single process-wide deadline queue. Construct it via
// GetQueue, never directly.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    entryHeap
	ingest  lockfree.ForwardList[*entry]
	stopCh  chan struct{}
	stopped bool
}

func newQueue() *Queue {
	q := &Queue{stopCh: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

var (
	globalMu   sync.Mutex
	globalQ    *Queue
	globalRefs int
)

// GetQueue returns the process-wide queue, starting its background
// goroutine on first use. Every caller must eventually call Release.
func GetQueue() *Queue {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalQ == nil {
		globalQ = newQueue()
		go globalQ.loop()
	}
	globalRefs++
	return globalQ
}

// Release drops a reference; the background goroutine stops and the
// singleton is torn down once the last reference is released.
func (q *Queue) Release() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRefs--
	if globalRefs <= 0 {
		q.mu.Lock()
		q.stopped = true
		close(q.stopCh)
		q.cond.Broadcast()
		q.mu.Unlock()
		globalQ = nil
		globalRefs = 0
	}
}

// Schedule arranges for fn to run no earlier than deadline, returning a
// CancellableTask the caller can Cancel before it fires. It never
// touches q.heap directly — the new entry lands in the ingestion list,
// and the background goroutine is woken only if that list was empty,
// i.e. it might otherwise be asleep with nothing left to drain.
func (q *Queue) Schedule(deadline time.Time, fn func()) *CancellableTask {
	task := NewCancellableTask(fn)
	e := &entry{deadline: deadline, task: task}
	if !q.ingest.TryPush(e) {
		q.ingest.Push(e)
		return task
	}
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
	return task
}

// drainIngest moves every entry waiting on the ingestion list into the
// heap. Called only from loop, so the heap never needs its own lock
// beyond the one loop already holds across its whole iteration.
func (q *Queue) drainIngest() {
	view := q.ingest.Release()
	for {
		e, ok := view.Pop()
		if !ok {
			return
		}
		heap.Push(&q.heap, e)
	}
}

func (q *Queue) loop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.stopped {
			return
		}
		q.drainIngest()
		if q.heap.Len() == 0 {
			q.cond.Wait()
			continue
		}
		next := q.heap[0]
		now := time.Now()
		if wait := next.deadline.Sub(now); wait > 0 {
			timer := time.AfterFunc(wait, func() {
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			})
			q.cond.Wait()
			timer.Stop()
			continue
		}
		for q.heap.Len() > 0 && !q.heap[0].deadline.After(now) {
			e := heap.Pop(&q.heap).(*entry)
			e.task.fire()
		}
	}
}
