// Package hostimpl is a standalone, Linux-native implementation of
// hostapi.Host over real virtual memory, for embedders (like
// cmd/crs-bench) that want to exercise the buffer manager against
// actual mmap/mprotect/madvise rather than MockHost's heap slices. It
// has no notion of a managed-language runtime: safepoints are no-ops
// and upstream calls are logged rather than dispatched, which is
// sufficient to drive the arena and flush paths end to end.
package hostimpl

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/crsruntime/crs-core/internal/hostapi"
	"github.com/crsruntime/crs-core/internal/logging"
)

// Host reserves address space with PROT_NONE and commits/uncommits
// pages within it via mprotect and madvise(MADV_DONTNEED), following
// the same raw-mmap approach the queue runner uses for descriptor
// arrays, adapted here to anonymous, reservation-style mappings.
type Host struct {
	logger *logging.Logger

	mu      sync.Mutex
	regions map[uintptr]int // region base address -> size, for bookkeeping only
}

// New creates a Host that logs upstream calls via logger instead of
// dispatching them to a real agent.
func New(logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.Default()
	}
	return &Host{logger: logger, regions: make(map[uintptr]int)}
}

// PageSize implements hostapi.Host.
func (h *Host) PageSize() int { return unix.Getpagesize() }

// ReserveRegion implements hostapi.Host by mmapping size bytes of
// anonymous memory with no access permissions. The mapping's address
// range is fixed for the call's lifetime; CommitPages later grants
// read/write access to sub-ranges.
func (h *Host) ReserveRegion(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostimpl: mmap reserve failed: %w", err)
	}
	h.mu.Lock()
	h.regions[addrOf(region)] = size
	h.mu.Unlock()
	return region, nil
}

// CommitPages implements hostapi.Host by granting read/write access to
// region[offset:offset+length] via mprotect.
func (h *Host) CommitPages(region []byte, offset, length int) error {
	if err := unix.Mprotect(region[offset:offset+length], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("hostimpl: mprotect commit failed: %w", err)
	}
	return nil
}

// UncommitPages implements hostapi.Host by advising the kernel to
// drop the physical backing for region[offset:offset+length] and
// revoking access, so a stray write after uncommit segfaults rather
// than silently succeeding.
func (h *Host) UncommitPages(region []byte, offset, length int) error {
	sub := region[offset : offset+length]
	if err := unix.Madvise(sub, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("hostimpl: madvise uncommit failed: %w", err)
	}
	if err := unix.Mprotect(sub, unix.PROT_NONE); err != nil {
		return fmt.Errorf("hostimpl: mprotect uncommit failed: %w", err)
	}
	return nil
}

// RunAtSafepoint implements hostapi.Host by invoking op directly:
// without an embedding managed runtime there are no other mutator
// threads to pause.
func (h *Host) RunAtSafepoint(op func()) { op() }

// InSafepoint implements hostapi.Host. It reports true unconditionally:
// with no mutator threads to pause, every caller counts as being at a
// safepoint, inside a RunAtSafepoint callback or not.
func (h *Host) InSafepoint() bool { return true }

// InvokeUpstream implements hostapi.Host by logging the call; there is
// no real upstream agent to dispatch to outside a managed-runtime
// embedding.
func (h *Host) InvokeUpstream(method, signature string, args []hostapi.UpstreamArg) error {
	h.logger.Debug("upstream call", "method", method, "signature", signature, "argc", len(args))
	return nil
}

// TakePendingException implements hostapi.Host; standalone embeddings
// never raise one.
func (h *Host) TakePendingException() error { return nil }

// ClassName implements hostapi.Host with a synthesized placeholder
// name, since a standalone embedding has no real class metadata to
// look up.
func (h *Host) ClassName(ref hostapi.ClassRef) string {
	return fmt.Sprintf("class#%d", uint64(ref))
}

// MethodName implements hostapi.Host with a synthesized placeholder
// name.
func (h *Host) MethodName(ref hostapi.MethodRef) string {
	return fmt.Sprintf("method#%d", uint64(ref))
}

// MethodSignature implements hostapi.Host with a placeholder
// signature.
func (h *Host) MethodSignature(ref hostapi.MethodRef) string {
	return "()V"
}

// Compile-time interface check.
var _ hostapi.Host = (*Host)(nil)
