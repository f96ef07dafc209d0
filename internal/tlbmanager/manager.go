// Package tlbmanager implements the buffer manager (C3): it reserves one
// virtual-address region, slices it into equal buffers, and maintains the
// free/leased/uncommitted pools plus the commit/uncommit watermark that
// tracks usage. It also drives the two-stage flush walk and exposes the
// safepoint-safe enumerator the eviction protocol relies on.
package tlbmanager

import (
	"fmt"
	"sync/atomic"

	"github.com/crsruntime/crs-core/internal/alist"
	"github.com/crsruntime/crs-core/internal/constants"
	"github.com/crsruntime/crs-core/internal/hostapi"
	"github.com/crsruntime/crs-core/internal/logging"
	"github.com/crsruntime/crs-core/internal/tlb"
)

// Manager owns the reserved region and the three buffer pools.
type Manager struct {
	host   hostapi.Host
	logger *logging.Logger

	region     []byte
	bufSize    uint32
	numBuffers int
	offsetOf   map[*tlb.Buffer]int

	free        alist.Stack[tlb.Buffer]
	leased      alist.Stack[tlb.Buffer]
	uncommitted alist.Stack[tlb.Buffer]
	notFinished alist.Stack[tlb.Buffer]

	currentVisit atomic.Pointer[tlb.Buffer]

	bytesUsed    atomic.Int64
	numCommitted atomic.Int32
	disabled     atomic.Bool
}

// New creates a Manager bound to host. Init must be called before any
// other method.
func New(host hostapi.Host, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.VM()
	}
	return &Manager{
		host:     host,
		logger:   logger.WithComponent("tlbmanager"),
		offsetOf: make(map[*tlb.Buffer]int),
	}
}

// Init reserves a region of areaSize bytes, slices it into buffers sized
// per spec.md §4.3 (target ~128 records/buffer, page-aligned, capped at
// MaxBufferSize), commits an initial estimate, and seeds the free and
// uncommitted pools. On any reservation or initial-commit failure the
// manager is marked disabled and an error is returned; the caller
// (Engine.Init) is expected to surface that as a synchronous setup
// error rather than letting the subsystem silently limp along.
func (m *Manager) Init(areaSize int) error {
	if areaSize <= 0 {
		return fmt.Errorf("tlbmanager: area size must be positive, got %d", areaSize)
	}

	pageSize := m.host.PageSize()
	if pageSize <= 0 {
		pageSize = 4096
	}

	bufSize := uint32(constants.NominalBufferSize)
	if bufSize < uint32(pageSize) {
		bufSize = uint32(pageSize)
	}
	if rem := bufSize % uint32(pageSize); rem != 0 {
		bufSize += uint32(pageSize) - rem
	}
	if bufSize > constants.MaxBufferSize {
		bufSize = constants.MaxBufferSize - (constants.MaxBufferSize % uint32(pageSize))
	}

	numBuffers := areaSize / int(bufSize)
	if numBuffers < constants.MinBuffers {
		numBuffers = constants.MinBuffers
	}
	regionSize := numBuffers * int(bufSize)

	region, err := m.host.ReserveRegion(regionSize)
	if err != nil {
		m.disabled.Store(true)
		return fmt.Errorf("tlbmanager: reserve region of %d bytes: %w", regionSize, err)
	}

	m.region = region
	m.bufSize = bufSize
	m.numBuffers = numBuffers

	buffers := make([]*tlb.Buffer, numBuffers)
	for i := range buffers {
		offset := i * int(bufSize)
		base := region[offset : offset+int(bufSize)]
		buf := tlb.NewBuffer(base)
		buffers[i] = buf
		m.offsetOf[buf] = offset
	}

	estimateBuffers := int(constants.InitialCommitBytes) / int(bufSize)
	if estimateBuffers < 1 {
		estimateBuffers = 1
	}
	if estimateBuffers > numBuffers {
		estimateBuffers = numBuffers
	}

	for i, buf := range buffers {
		if i < estimateBuffers {
			if err := m.host.CommitPages(m.region, m.offsetOf[buf], int(bufSize)); err != nil {
				m.disabled.Store(true)
				return fmt.Errorf("tlbmanager: commit initial estimate: %w", err)
			}
			m.numCommitted.Add(1)
			m.free.Push(buf)
		} else {
			m.uncommitted.Push(buf)
		}
	}

	m.logger.Debug("initialized",
		"area_size", areaSize, "buffer_size", bufSize,
		"num_buffers", numBuffers, "committed", estimateBuffers)
	return nil
}

// Disabled reports whether Init failed or the subsystem was otherwise
// shut down; callers should treat every other method as a no-op once this
// is true.
func (m *Manager) Disabled() bool { return m.disabled.Load() }

// Disable marks the subsystem inert. Idempotent.
func (m *Manager) Disable() { m.disabled.Store(true) }

// BufferSize returns B, the fixed size of every buffer.
func (m *Manager) BufferSize() uint32 { return m.bufSize }

// BytesUsed returns the sum of B over currently leased buffers.
func (m *Manager) BytesUsed() uint64 { return uint64(m.bytesUsed.Load()) }

// NumCommitted returns the number of buffers currently backed by
// physical pages.
func (m *Manager) NumCommitted() int { return int(m.numCommitted.Load()) }

func (m *Manager) uncommit(b *tlb.Buffer) bool {
	offset, ok := m.offsetOf[b]
	if !ok {
		return false
	}
	if err := m.host.UncommitPages(m.region, offset, int(m.bufSize)); err != nil {
		m.logger.Debug("uncommit failed", "error", err)
		return false
	}
	m.numCommitted.Add(-1)
	return true
}

// Ensure implements the lease path of spec.md §4.3: if buf already has at
// least size bytes free it is returned unchanged; otherwise buf (if any)
// is released back to the owner-less leased pool and a fresh buffer is
// popped from free (or, failing that, uncommitted, committing its pages
// on the way out) and leased to owner.
func (m *Manager) Ensure(buf *tlb.Buffer, size uint32, owner *tlb.ThreadHandle) (*tlb.Buffer, bool) {
	if m.disabled.Load() {
		return nil, false
	}
	if buf != nil && buf.Cap()-buf.Pos() >= size {
		return buf, true
	}
	if buf != nil {
		buf.Release()
	}

	next := m.free.Pop()
	if next == nil {
		next = m.uncommitted.Pop()
		if next == nil {
			return nil, false
		}
		offset, ok := m.offsetOf[next]
		if !ok {
			m.uncommitted.Push(next)
			return nil, false
		}
		if err := m.host.CommitPages(m.region, offset, int(m.bufSize)); err != nil {
			m.uncommitted.Push(next)
			m.logger.Debug("commit failed", "error", err)
			return nil, false
		}
		m.numCommitted.Add(1)
	}

	next.Lease(owner)
	m.leased.Push(next)
	m.bytesUsed.Add(int64(m.bufSize))
	return next, true
}

// FlushBuffers implements the flush walk of spec.md §4.3: pops every
// buffer off leased, deferring still-owned ones onto the private
// notFinished list (visible in real time to LeasedBuffersDo, satisfying
// the safepoint-tolerance requirement of §4.3/§5), visiting the rest, and
// uncommitting buffers down toward committedGoal. It returns the number
// of bytes reclaimed (buffers moved from leased to free/uncommitted).
func (m *Manager) FlushBuffers(visitor func(*tlb.Buffer), committedGoal uint64) uint64 {
	toUncommit := 0
	if m.bufSize > 0 {
		goalBuffers := int(committedGoal / uint64(m.bufSize))
		toUncommit = int(m.numCommitted.Load()) - goalBuffers
		if toUncommit < 0 {
			toUncommit = 0
		}
	}

	var reclaimed uint64
	var uncommittedHead, uncommittedTail *tlb.Buffer

	for {
		b := m.leased.Pop()
		if b == nil {
			break
		}
		if b.Owner() != nil {
			m.notFinished.Push(b)
			continue
		}

		m.currentVisit.Store(b)
		visitor(b)
		m.currentVisit.Store(nil)

		m.bytesUsed.Add(-int64(m.bufSize))
		reclaimed += uint64(m.bufSize)

		if toUncommit > 0 && m.uncommit(b) {
			toUncommit--
			if uncommittedHead == nil {
				uncommittedHead, uncommittedTail = b, b
			} else {
				b.Next().Store(uncommittedHead)
				uncommittedHead = b
			}
		} else {
			m.free.Push(b)
		}
	}

	// Drain the buffers parked during this pass and hand them back to
	// leased for the next flush to retry.
	var notFinishedHead, notFinishedTail *tlb.Buffer
	for {
		b := m.notFinished.Pop()
		if b == nil {
			break
		}
		if notFinishedHead == nil {
			notFinishedHead, notFinishedTail = b, b
		} else {
			b.Next().Store(notFinishedHead)
			notFinishedHead = b
		}
	}
	if notFinishedHead != nil {
		m.leased.PushList(notFinishedHead, notFinishedTail)
	}

	for toUncommit > 0 {
		b := m.free.Pop()
		if b == nil {
			break
		}
		if !m.uncommit(b) {
			m.free.Push(b)
			break
		}
		toUncommit--
		if uncommittedHead == nil {
			uncommittedHead, uncommittedTail = b, b
		} else {
			b.Next().Store(uncommittedHead)
			uncommittedHead = b
		}
	}

	if uncommittedHead != nil {
		m.uncommitted.PushList(uncommittedHead, uncommittedTail)
	}

	return reclaimed
}

// LeasedBuffersDo visits every buffer that may still hold live records:
// the one currently inside a FlushBuffers visitor call (if any), every
// buffer still on leased, and every buffer parked on notFinished during
// an in-progress flush. Safety precondition: the caller runs inside a
// safepoint, matching alist.Stack.Head's contract.
func (m *Manager) LeasedBuffersDo(visit func(*tlb.Buffer)) {
	if cv := m.currentVisit.Load(); cv != nil {
		visit(cv)
	}
	for b := m.leased.Head(); b != nil; b = b.Next().Load() {
		visit(b)
	}
	for b := m.notFinished.Head(); b != nil; b = b.Next().Load() {
		visit(b)
	}
}
