// Package eventqueue implements the event latch and notifier (C6): a
// process-wide FIFO of structured notifications, guarded by a mutex and
// signaled through a condition variable, that lets application threads
// wake a dedicated background worker without blocking on delivery.
package eventqueue

import (
	"context"
	"sync"
)

// Kind tags the payload carried by an Event.
type Kind uint8

const (
	KindClassLoad Kind = iota
	KindFirstCall
)

// ClassLoadPayload carries a processed CLASS_LOAD or CLASS_LOAD_BLOWN
// record. ClassName is only populated when the event originated from a
// blown record.
type ClassLoadPayload struct {
	LoaderID, ClassID uint64
	HasHash           bool
	Hash              [32]byte
	Source            string
	ClassName         string
}

// FirstCallPayload carries a processed FIRST_CALL or FIRST_CALL_BLOWN
// record. MethodName/Signature are only populated when the event
// originated from a blown record.
type FirstCallPayload struct {
	HolderClassID uint64
	MethodPtr     uint64
	MethodName    string
	Signature     string
}

// Event is one heap-allocated FIFO node. Nodes are pooled (see pool.go)
// since payloads are small and homogeneous, adapted from the teacher's
// bucketed sync.Pool pattern down to a single shape.
type Event struct {
	Kind      Kind
	ClassLoad ClassLoadPayload
	FirstCall FirstCallPayload

	next *Event
}

// Queue is the singly-linked FIFO plus "should notify" flag described in
// spec.md §4.6.
type Queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	head, tail   *Event
	shouldNotify bool
	initialized  bool
	disabled     bool
}

// New creates an empty, uninitialized queue. Schedule may be called
// before MarkInitialized; the background worker started by Run only
// begins signaling once MarkInitialized has been called, matching
// spec.md's "if the subsystem has completed its one-time init".
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// MarkInitialized allows Schedule to start waking the condition variable.
func (q *Queue) MarkInitialized() {
	q.mu.Lock()
	q.initialized = true
	q.mu.Unlock()
}

// Disable irreversibly stops the latch: Schedule becomes a no-op and any
// worker blocked in Run wakes and returns.
func (q *Queue) Disable() {
	q.mu.Lock()
	q.disabled = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Schedule appends event to the tail of the queue under the queue's
// mutex, sets the "should notify" flag, and signals the condition
// variable if the queue has completed its one-time init. Non-blocking.
func (q *Queue) Schedule(ev *Event) {
	if ev == nil {
		return
	}
	ev.next = nil
	q.mu.Lock()
	if q.disabled {
		q.mu.Unlock()
		putEvent(ev)
		return
	}
	if q.tail == nil {
		q.head = ev
	} else {
		q.tail.next = ev
	}
	q.tail = ev
	q.shouldNotify = true
	initialized := q.initialized
	q.mu.Unlock()

	if initialized {
		q.cond.Signal()
	}
}

// ShouldNotify is the cheap boolean the runtime's service-thread main
// loop polls to decide whether to call NotifyJava.
func (q *Queue) ShouldNotify() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shouldNotify
}

// NotifyJava drains the queue under the mutex and dispatches events in
// FIFO order via dispatch; each event is returned to the pool after
// dispatch. It stops early if Disable has been called, leaving any
// remaining events undelivered.
func (q *Queue) NotifyJava(dispatch func(*Event)) {
	q.mu.Lock()
	for {
		if q.disabled {
			q.shouldNotify = false
			q.mu.Unlock()
			return
		}
		ev := q.head
		if ev == nil {
			break
		}
		q.head = ev.next
		if q.head == nil {
			q.tail = nil
		}
		q.mu.Unlock()

		dispatch(ev)
		putEvent(ev)

		q.mu.Lock()
	}
	q.shouldNotify = false
	q.mu.Unlock()
}

// Run drives a dedicated background worker: it blocks on the condition
// variable between drains (spec.md §5: "notify_java blocks on
// condition-variable waits between drains") and calls NotifyJava whenever
// woken by Schedule, until ctx is done or Disable is called.
func (q *Queue) Run(ctx context.Context, dispatch func(*Event)) {
	q.MarkInitialized()
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		for !q.shouldNotify && !q.disabled && ctx.Err() == nil {
			q.cond.Wait()
		}
		done := q.disabled || ctx.Err() != nil
		q.mu.Unlock()
		if done {
			return
		}
		q.NotifyJava(dispatch)
	}
}
