// Package alist implements the intrusive lock-free stack (C1) behind the
// buffer manager's buffer pools: a Treiber stack where pop installs a per-instance sentinel node as the
// head for the duration of the pop, so concurrent pushers spin instead of
// racing a freshly-popped node back onto the list (classic ABA hazard for
// a plain CAS-based pop).
package alist

import "sync/atomic"

// Linkable is the interface *T must implement for T to be stored on a
// Stack: it exposes the storage for the item's own intrusive next
// pointer, so Stack[T] stores *T values directly instead of wrapping them
// in a separate node type.
type Linkable[T any] interface {
	Next() *atomic.Pointer[T]
}

// Stack is a multi-producer, single-consumer intrusive LIFO. The zero
// value is ready to use. *T must implement Linkable[T]; this is checked
// when an item is linked, and a *T that does not implement it panics.
type Stack[T any] struct {
	head   atomic.Pointer[T]
	marker T
}

// link returns item's intrusive next pointer.
func link[T any](item *T) *atomic.Pointer[T] {
	return any(item).(Linkable[T]).Next()
}

// sentinel returns the address used to mark "pop in progress". It is a
// field of the Stack itself so distinct stacks never share a sentinel
// address, and no package-level state is needed.
func (s *Stack[T]) sentinel() *T {
	return &s.marker
}

// Push adds item to the top of the stack. Non-blocking; order between
// concurrent pushes is unspecified.
func (s *Stack[T]) Push(item *T) {
	s.PushList(item, item)
}

// PushList splices the intrusive chain running from head to tail (tail's
// Next() must already point past the end of the segment being pushed, or
// be unset) onto the top of the stack as a single unit.
func (s *Stack[T]) PushList(head, tail *T) {
	if head == nil {
		return
	}
	tailNext := link(tail)
	sentinel := s.sentinel()
	for {
		cur := s.head.Load()
		if cur == sentinel {
			continue // a pop is in progress; spin until it releases the head
		}
		tailNext.Store(cur)
		if s.head.CompareAndSwap(cur, head) {
			return
		}
	}
}

// Pop removes and returns the top of the stack, or nil if it was observed
// empty. Non-blocking, with short spins bounded by the duration of any
// concurrent Pop.
func (s *Stack[T]) Pop() *T {
	sentinel := s.sentinel()
	for {
		cur := s.head.Load()
		if cur == nil {
			return nil
		}
		if cur == sentinel {
			continue // another pop is mid-flight; spin
		}
		if !s.head.CompareAndSwap(cur, sentinel) {
			continue
		}
		next := link(cur).Load()
		s.head.Store(next)
		return cur
	}
}

// Head performs an unsafe "naked" read of the current top of the stack,
// without installing the pop sentinel. Safe only when the caller holds a
// safepoint-equivalent guarantee that no concurrent Pop can be mid-flight;
// this module only calls it from within a runtime safepoint callback.
func (s *Stack[T]) Head() *T {
	h := s.head.Load()
	if h == s.sentinel() {
		return nil
	}
	return h
}
