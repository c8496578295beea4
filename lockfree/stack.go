package lockfree

import "sync/atomic"

type stackNode[T any] struct {
	value T
	next  *stackNode[T]
}

// Stack is a Treiber stack: Push CAS-links a new head, Pop CAS-unlinks the
// current head and defers freeing it through a Deleter so a concurrent
// Pop that already read the old head's `next` pointer can't be handed a
// recycled node (the classic ABA hazard on pooled storage).
//
// Grounded on original_source/Lockfree/LockFree.h's Stack::Pop: acquire an
// epoch, CAS the head to its successor, release the epoch, retire the old
// head through the deferred deleter.
type Stack[T any] struct {
	head    atomic.Pointer[stackNode[T]]
	deleter *Deleter
}

// NewStack builds a stack whose Pop calls share deleterSlots reader slots.
func NewStack[T any](deleterSlots int) *Stack[T] {
	return &Stack[T]{deleter: NewDeleter(deleterSlots, 1)}
}

// Push places v on top of the stack.
func (s *Stack[T]) Push(v T) {
	n := &stackNode[T]{value: v}
	for {
		old := s.head.Load()
		n.next = old
		if s.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// Pop removes and returns the top value. emptied reports whether the pop
// left the stack empty, so a caller needs no separate Empty check.
func (s *Stack[T]) Pop() (value T, emptied bool, ok bool) {
	tok := s.deleter.Acquire()
	defer tok.Release()
	for {
		old := s.head.Load()
		if old == nil {
			return value, false, false
		}
		next := old.next
		if s.head.CompareAndSwap(old, next) {
			value = old.value
			emptied = next == nil
			node := old
			s.deleter.Delete(func() { node.next = nil })
			s.deleter.ClearIfNeeded()
			return value, emptied, true
		}
	}
}

// Empty reports whether the stack currently has no elements. Racy by
// nature; useful only as a hint.
func (s *Stack[T]) Empty() bool { return s.head.Load() == nil }
