package crs

import (
	"sync"

	"github.com/crsruntime/crs-core/internal/hostapi"
)

// MockHost provides a heap-backed implementation of hostapi.Host for
// testing. It never calls into a real VM: regions are plain byte
// slices, commit/uncommit are bookkeeping-only, and upstream calls are
// recorded rather than dispatched, so application code driving an
// Engine in tests never needs a real host runtime.
type MockHost struct {
	pageSize int

	mu               sync.RWMutex
	reserveCalls     int
	commitCalls      int
	uncommitCalls    int
	safepointCalls   int
	upstreamCalls    []UpstreamCall
	pendingException error
	classNames       map[hostapi.ClassRef]string
	methodNames      map[hostapi.MethodRef]string
	methodSigs       map[hostapi.MethodRef]string
	failReserve      bool
	failCommitAt     int // 1-based call index that fails, 0 = never
}

// UpstreamCall records one InvokeUpstream invocation for later
// assertion.
type UpstreamCall struct {
	Method    string
	Signature string
	Args      []hostapi.UpstreamArg
}

// NewMockHost creates a MockHost with the given simulated page size.
func NewMockHost(pageSize int) *MockHost {
	return &MockHost{
		pageSize:    pageSize,
		classNames:  make(map[hostapi.ClassRef]string),
		methodNames: make(map[hostapi.MethodRef]string),
		methodSigs:  make(map[hostapi.MethodRef]string),
	}
}

// PageSize implements hostapi.Host.
func (h *MockHost) PageSize() int { return h.pageSize }

// ReserveRegion implements hostapi.Host by allocating a zeroed heap
// slice of the requested size.
func (h *MockHost) ReserveRegion(size int) ([]byte, error) {
	h.mu.Lock()
	h.reserveCalls++
	fail := h.failReserve
	h.mu.Unlock()
	if fail {
		return nil, NewComponentError("ReserveRegion", "hostapi", ErrCodeStartup, "mock reserve failure")
	}
	return make([]byte, size), nil
}

// CommitPages implements hostapi.Host as a no-op bookkeeping call: the
// backing slice is already fully addressable heap memory.
func (h *MockHost) CommitPages(region []byte, offset, length int) error {
	h.mu.Lock()
	h.commitCalls++
	n := h.commitCalls
	fail := h.failCommitAt != 0 && n >= h.failCommitAt
	h.mu.Unlock()
	if fail {
		return NewComponentError("CommitPages", "hostapi", ErrCodeStartup, "mock commit failure")
	}
	return nil
}

// UncommitPages implements hostapi.Host by zeroing the released range,
// mimicking what a real madvise(MADV_DONTNEED) would make visible.
func (h *MockHost) UncommitPages(region []byte, offset, length int) error {
	h.mu.Lock()
	h.uncommitCalls++
	h.mu.Unlock()
	for i := offset; i < offset+length && i < len(region); i++ {
		region[i] = 0
	}
	return nil
}

// RunAtSafepoint implements hostapi.Host by invoking op synchronously;
// tests have no real mutator threads to pause.
func (h *MockHost) RunAtSafepoint(op func()) {
	h.mu.Lock()
	h.safepointCalls++
	h.mu.Unlock()
	op()
}

// InSafepoint implements hostapi.Host; MockHost is always willing to
// report true since RunAtSafepoint runs its callback synchronously.
func (h *MockHost) InSafepoint() bool { return true }

// InvokeUpstream implements hostapi.Host by recording the call instead
// of dispatching it anywhere.
func (h *MockHost) InvokeUpstream(method, signature string, args []hostapi.UpstreamArg) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upstreamCalls = append(h.upstreamCalls, UpstreamCall{Method: method, Signature: signature, Args: args})
	return h.pendingException
}

// TakePendingException implements hostapi.Host, returning and clearing
// whatever SetPendingException configured.
func (h *MockHost) TakePendingException() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.pendingException
	h.pendingException = nil
	return err
}

// ClassName implements hostapi.Host.
func (h *MockHost) ClassName(ref hostapi.ClassRef) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.classNames[ref]
}

// MethodName implements hostapi.Host.
func (h *MockHost) MethodName(ref hostapi.MethodRef) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.methodNames[ref]
}

// MethodSignature implements hostapi.Host.
func (h *MockHost) MethodSignature(ref hostapi.MethodRef) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.methodSigs[ref]
}

// Testing utility methods.

// SetClassName registers the name returned for ref by ClassName.
func (h *MockHost) SetClassName(ref hostapi.ClassRef, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.classNames[ref] = name
}

// SetMethod registers the name and signature returned for ref.
func (h *MockHost) SetMethod(ref hostapi.MethodRef, name, signature string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methodNames[ref] = name
	h.methodSigs[ref] = signature
}

// SetPendingException makes the next TakePendingException (and every
// InvokeUpstream until then) return err.
func (h *MockHost) SetPendingException(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingException = err
}

// FailReserve makes every ReserveRegion call fail while fail is true.
func (h *MockHost) FailReserve(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failReserve = fail
}

// FailCommitAt makes the n-th (1-based) CommitPages call onward fail.
// Pass 0 to disable.
func (h *MockHost) FailCommitAt(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failCommitAt = n
}

// UpstreamCalls returns a copy of every InvokeUpstream call recorded so
// far.
func (h *MockHost) UpstreamCalls() []UpstreamCall {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]UpstreamCall, len(h.upstreamCalls))
	copy(out, h.upstreamCalls)
	return out
}

// CallCounts returns the number of times each bookkeeping method has
// been called.
func (h *MockHost) CallCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int{
		"reserve":   h.reserveCalls,
		"commit":    h.commitCalls,
		"uncommit":  h.uncommitCalls,
		"safepoint": h.safepointCalls,
		"upstream":  len(h.upstreamCalls),
	}
}

// Reset clears all call counters and recorded calls.
func (h *MockHost) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reserveCalls = 0
	h.commitCalls = 0
	h.uncommitCalls = 0
	h.safepointCalls = 0
	h.upstreamCalls = nil
}

// Compile-time interface check.
var _ hostapi.Host = (*MockHost)(nil)
