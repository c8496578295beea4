// Package lockfree provides the runtime's non-blocking building blocks: an
// intrusive forward list with an atomically-released "unsafe view", an
// epoch-based deferred deleter, a Treiber stack and a Michael-Scott queue.
// Every other package (timerqueue, service, descriptor, syncx) stores its
// waiter lists in one of these rather than behind a mutex, since waiter
// enqueue/dequeue sits on the hot path of every suspend and resume.
//
// Grounded on original_source/Lockfree/LockFree.h's ForwardList/Unsafe
// split: the concurrent structure only ever supports Push and an atomic
// Release that hands the whole chain to the releasing goroutine as a
// single-threaded View it can walk, mutate and rebuild freely.
package lockfree

import "sync/atomic"

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// ForwardList is a multi-producer, single-consumer-at-a-time intrusive
// list: any number of goroutines may Push concurrently, but only whoever
// wins a Release call may walk the returned chain, since Release hands out
// the list's entire current contents as a private View.
type ForwardList[T any] struct {
	head atomic.Pointer[node[T]]
}

// Push prepends v to the list.
func (l *ForwardList[T]) Push(v T) {
	n := &node[T]{value: v}
	for {
		old := l.head.Load()
		n.next.Store(old)
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// TryPush prepends v only if the list is currently empty, returning false
// without modifying anything otherwise.
func (l *ForwardList[T]) TryPush(v T) bool {
	n := &node[T]{value: v}
	return l.head.CompareAndSwap(nil, n)
}

// Release atomically detaches the entire current chain and returns it as a
// View the caller owns exclusively; concurrent Push calls racing with
// Release either land in the returned View or start a fresh chain, never
// both.
func (l *ForwardList[T]) Release() *View[T] {
	return &View[T]{head: l.head.Swap(nil)}
}

// PushBack re-attaches a previously-released (and possibly partially
// drained) View as a single unit, preserving its internal order and
// placing it ahead of whatever has been pushed since. Used by the deferred
// deleter to put back entries it could not yet free.
func (l *ForwardList[T]) PushBack(v *View[T]) {
	if v.head == nil {
		return
	}
	tail := v.head
	for {
		next := tail.next.Load()
		if next == nil {
			break
		}
		tail = next
	}
	for {
		old := l.head.Load()
		tail.next.Store(old)
		if l.head.CompareAndSwap(old, v.head) {
			return
		}
	}
}

// View is a private, single-threaded handle over a chain detached from a
// ForwardList by Release. It is not safe for concurrent use; that is
// exactly the point, it lets the owner Pop without CAS overhead.
type View[T any] struct {
	head *node[T]
}

// Pop removes and returns the front value, or ok=false if the view is
// empty.
func (v *View[T]) Pop() (value T, ok bool) {
	if v.head == nil {
		return value, false
	}
	value = v.head.value
	v.head = v.head.next.Load()
	return value, true
}

// Empty reports whether the view has no more elements.
func (v *View[T]) Empty() bool { return v.head == nil }

// RemoveIf filters the view in place: every element for which pred
// returns true is detached and returned, in original relative order; the
// view keeps only the elements pred rejected. Used by Deleter.Clear to
// split retired nodes into "free now" and "still in use" without a
// separate hand-rolled scan.
func (v *View[T]) RemoveIf(pred func(T) bool) []T {
	var removed []T
	var keptHead, keptTail *node[T]
	for n := v.head; n != nil; {
		next := n.next.Load()
		if pred(n.value) {
			removed = append(removed, n.value)
		} else {
			n.next.Store(nil)
			if keptTail == nil {
				keptHead = n
			} else {
				keptTail.next.Store(n)
			}
			keptTail = n
		}
		n = next
	}
	v.head = keptHead
	return removed
}
