// Package arena implements the record arena (C4): the sole allocator used
// by message posting. It hides buffer leasing/rotation behind a
// thread-indexed alloc API and tracks a sticky overflow flag so posting
// code never has to special-case a failed lease.
package arena

import (
	"sync/atomic"

	"github.com/crsruntime/crs-core/internal/tlb"
	"github.com/crsruntime/crs-core/internal/tlbmanager"
)

// Arena is the sole allocator used by message post-routines.
type Arena struct {
	mgr *tlbmanager.Manager

	overflow atomic.Bool
	prevHWM  atomic.Uint64
}

// New creates an Arena backed by mgr.
func New(mgr *tlbmanager.Manager) *Arena {
	return &Arena{mgr: mgr}
}

// Overflow reports the sticky resource-exhaustion flag: once set, all
// further allocations are refused until the next Flush.
func (a *Arena) Overflow() bool { return a.overflow.Load() }

// Alloc is the simple allocation path: find-or-lease a buffer for thread
// via the manager, bump-allocate size bytes, and return a pointer to the
// new record's home. Returns ok=false (and sets the sticky overflow flag)
// on lease or allocation failure.
func (a *Arena) Alloc(thread *tlb.ThreadHandle, size uint16) (buf *tlb.Buffer, offset uint32, ok bool) {
	if a.overflow.Load() {
		return nil, 0, false
	}
	buf, leaseOK := a.mgr.Ensure(thread.CurBuf(), uint32(size), thread)
	if !leaseOK {
		a.overflow.Store(true)
		return nil, 0, false
	}
	thread.SetCurBuf(buf)

	off, allocOK := buf.Alloc(uint32(size))
	if !allocOK {
		a.overflow.Store(true)
		return nil, 0, false
	}
	return buf, off, true
}

// AllocReference implements the reference-aware allocation path of
// spec.md §4.4, used by records whose payload may already be present as
// the buffer's back-reference anchor for category cat. isNewReference is
// the caller's content-based decision (does this payload differ from the
// anchor?); if leasing rotates to a different buffer the previous
// anchor is unreachable, and if the buffer holds no anchor for cat yet
// there is nothing to refer back to, so in both cases this call forces
// isNewReference to true regardless of what the caller decided.
func (a *Arena) AllocReference(thread *tlb.ThreadHandle, cat int, isNewReference bool, sizeShort, sizeFull uint16) (buf *tlb.Buffer, offset uint32, newReference bool, ok bool) {
	if a.overflow.Load() {
		return nil, 0, false, false
	}
	prevBuf := thread.CurBuf()
	buf, leaseOK := a.mgr.Ensure(prevBuf, uint32(sizeFull), thread)
	if !leaseOK {
		a.overflow.Store(true)
		return nil, 0, false, false
	}
	if buf != prevBuf {
		isNewReference = true
	}
	if _, hasAnchor := buf.Reference(cat); !hasAnchor {
		isNewReference = true
	}
	thread.SetCurBuf(buf)

	size := sizeShort
	if isNewReference {
		size = sizeFull
	}
	off, allocOK := buf.Alloc(uint32(size))
	if !allocOK {
		a.overflow.Store(true)
		return nil, 0, false, false
	}
	if isNewReference {
		buf.SetReference(cat, off)
	}
	return buf, off, isNewReference, true
}

// ReleaseThread clears thread's current buffer pointer and marks the
// buffer's owner null, so the next flush can evacuate it. Called on
// thread exit or while the engine forces a release at a safepoint.
func (a *Arena) ReleaseThread(thread *tlb.ThreadHandle) {
	if buf := thread.CurBuf(); buf != nil {
		buf.Release()
		thread.SetCurBuf(nil)
	}
}

// Flush computes a new committed goal as the average of the previous and
// current high-water usage, drives TLBManager.FlushBuffers with a visitor
// that walks each buffer's records via process, and clears overflow. It
// returns the number of bytes reclaimed (handed back to free/uncommitted).
func (a *Arena) Flush(process func(*tlb.Buffer)) uint64 {
	bytesUsed := a.mgr.BytesUsed()
	prevHWM := a.prevHWM.Load()
	goal := (prevHWM + bytesUsed) / 2
	if bytesUsed > prevHWM {
		a.prevHWM.Store(bytesUsed)
	}

	reclaimed := a.mgr.FlushBuffers(process, goal)
	a.overflow.Store(false)
	return reclaimed
}
