// Package tlb implements the thread-local buffer (C2): a fixed-size write
// region owned by at most one thread at a time, bump-allocated without
// locking, carrying a small fixed array of back-reference slots used for
// string interning within the buffer.
package tlb

import (
	"sync/atomic"

	"github.com/crsruntime/crs-core/internal/constants"
)

// noReference marks an empty back-reference slot. 0 is a valid offset (the
// very first record in a buffer may itself be an anchor), so the sentinel
// must be out of the valid offset range instead.
const noReference = ^uint32(0)

// ThreadHandle is the explicit identity a caller obtains for a runtime
// thread before it may post. The original design keeps the "current
// buffer" pointer in thread-local storage; Go has no native per-goroutine
// TLS, so the pointer is instead a field of the handle the caller holds
// and passes explicitly into every posting call.
type ThreadHandle struct {
	id     uint64
	name   string
	curBuf atomic.Pointer[Buffer]
}

// NewThreadHandle constructs a handle for a runtime thread. id is expected
// to be unique for the thread's lifetime (e.g. a host-assigned identity
// token or the OS thread id); name is used only for diagnostics.
func NewThreadHandle(id uint64, name string) *ThreadHandle {
	return &ThreadHandle{id: id, name: name}
}

func (h *ThreadHandle) ID() uint64    { return h.id }
func (h *ThreadHandle) Name() string  { return h.name }
func (h *ThreadHandle) CurBuf() *Buffer {
	return h.curBuf.Load()
}
func (h *ThreadHandle) SetCurBuf(b *Buffer) {
	h.curBuf.Store(b)
}

// Buffer is one fixed-size slice of the reserved region, leased to at most
// one ThreadHandle at a time.
type Buffer struct {
	base []byte
	pos  atomic.Uint32
	owner atomic.Pointer[ThreadHandle]
	refs  [constants.NumRefCategories]atomic.Uint32
	next  atomic.Pointer[Buffer]
}

// NewBuffer wraps a committed backing slice as a free buffer. base's
// length is the buffer's fixed capacity B and never changes afterward.
func NewBuffer(base []byte) *Buffer {
	b := &Buffer{base: base}
	for i := range b.refs {
		b.refs[i].Store(noReference)
	}
	return b
}

// Next implements alist.Linkable so Buffer can ride the shared intrusive
// stack used for the free/leased/uncommitted pools.
func (b *Buffer) Next() *atomic.Pointer[Buffer] { return &b.next }

// Lease assigns owner to the buffer, resetting the write cursor and all
// back-reference slots. Panics if the buffer is already leased: the
// manager is responsible for only leasing buffers it popped from free or
// uncommitted, never one still on leased.
func (b *Buffer) Lease(owner *ThreadHandle) {
	if b.owner.Load() != nil {
		panic("tlb: Lease called on a buffer that already has an owner")
	}
	b.pos.Store(0)
	for i := range b.refs {
		b.refs[i].Store(noReference)
	}
	b.owner.Store(owner)
}

// Release clears the buffer's owner without touching its contents; the
// buffer remains on the leased pool, discoverable by the flush walk, until
// a flush visits and reclaims it.
func (b *Buffer) Release() {
	b.owner.Store(nil)
}

// Owner returns the buffer's current owner, or nil if released.
func (b *Buffer) Owner() *ThreadHandle { return b.owner.Load() }

// Base returns the buffer's backing slice. Valid for the buffer's entire
// lifetime; callers must respect Pos() as the boundary of live content.
func (b *Buffer) Base() []byte { return b.base }

// Cap returns the buffer's fixed capacity B.
func (b *Buffer) Cap() uint32 { return uint32(len(b.base)) }

// Pos returns the current write cursor.
func (b *Buffer) Pos() uint32 { return b.pos.Load() }

func wordAlign(n uint32) uint32 {
	return (n + constants.WordSize - 1) &^ (constants.WordSize - 1)
}

// Alloc bump-allocates size bytes (word-aligned) from the buffer and
// returns the offset of the allocation. Only the owning thread may call
// this — no locking is used, matching spec.md §4.2's "no locking: a
// buffer is only written by its owner."
func (b *Buffer) Alloc(size uint32) (offset uint32, ok bool) {
	aligned := wordAlign(size)
	cur := b.pos.Load()
	if aligned > b.Cap()-cur {
		return 0, false
	}
	b.pos.Store(cur + aligned)
	return cur, true
}

// SetReference records offset as the buffer's back-reference anchor for
// category cat.
func (b *Buffer) SetReference(cat int, offset uint32) {
	b.refs[cat].Store(offset)
}

// Reference returns the buffer's current back-reference anchor for
// category cat, or ok=false if none has been set since the buffer was
// leased.
func (b *Buffer) Reference(cat int) (offset uint32, ok bool) {
	v := b.refs[cat].Load()
	if v == noReference {
		return 0, false
	}
	return v, true
}
