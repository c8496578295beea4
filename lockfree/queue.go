package lockfree

import "sync/atomic"

type queueNode[T any] struct {
	value T
	next  atomic.Pointer[queueNode[T]]
}

// Queue is a Michael-Scott queue: a permanently-present dummy node keeps
// head and tail from ever colliding on an empty queue, so producers and
// consumers never need to coordinate through a shared lock. Dequeue
// retires the old dummy through a Deleter for the same ABA reason Stack
// does.
//
// Grounded on original_source/Lockfree/LockFree.h's Queue::Push/Pop, which
// follow the same dummy-tail design as the classic Michael & Scott (1996)
// algorithm.
type Queue[T any] struct {
	head    atomic.Pointer[queueNode[T]]
	tail    atomic.Pointer[queueNode[T]]
	deleter *Deleter
}

// NewQueue builds an empty queue whose Dequeue calls share deleterSlots
// reader slots.
func NewQueue[T any](deleterSlots int) *Queue[T] {
	dummy := &queueNode[T]{}
	q := &Queue[T]{deleter: NewDeleter(deleterSlots, 1)}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

// Enqueue appends v.
func (q *Queue[T]) Enqueue(v T) {
	n := &queueNode[T]{}
	n.value = v
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return
			}
		} else {
			// tail lagged behind a completed-but-unswung enqueue; help it along.
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

// Dequeue removes and returns the front value, or ok=false if empty.
func (q *Queue[T]) Dequeue() (value T, ok bool) {
	tok := q.deleter.Acquire()
	defer tok.Release()
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return value, false
			}
			// tail lagged; help it along and retry.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		value = next.value
		if q.head.CompareAndSwap(head, next) {
			old := head
			q.deleter.Delete(func() { old.next.Store(nil) })
			q.deleter.ClearIfNeeded()
			return value, true
		}
	}
}

// Empty reports whether the queue currently has no elements. Racy by
// nature; useful only as a hint.
func (q *Queue[T]) Empty() bool {
	head := q.head.Load()
	return head.next.Load() == nil
}
