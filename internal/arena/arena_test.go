package arena

import (
	"testing"

	"github.com/crsruntime/crs-core/internal/hostapi"
	"github.com/crsruntime/crs-core/internal/tlb"
	"github.com/crsruntime/crs-core/internal/tlbmanager"
	"github.com/stretchr/testify/require"
)

type fakeHost struct{ pageSize int }

func newFakeHost() *fakeHost { return &fakeHost{pageSize: 4096} }

func (h *fakeHost) PageSize() int                                 { return h.pageSize }
func (h *fakeHost) ReserveRegion(size int) ([]byte, error)        { return make([]byte, size), nil }
func (h *fakeHost) CommitPages(region []byte, off, n int) error   { return nil }
func (h *fakeHost) UncommitPages(region []byte, off, n int) error { return nil }
func (h *fakeHost) RunAtSafepoint(op func())                      { op() }
func (h *fakeHost) InSafepoint() bool                             { return false }
func (h *fakeHost) InvokeUpstream(method, signature string, args []hostapi.UpstreamArg) error {
	return nil
}
func (h *fakeHost) TakePendingException() error             { return nil }
func (h *fakeHost) ClassName(ref hostapi.ClassRef) string   { return "" }
func (h *fakeHost) MethodName(ref hostapi.MethodRef) string { return "" }
func (h *fakeHost) MethodSignature(ref hostapi.MethodRef) string { return "" }

func newTestArena(t *testing.T, areaSize int) *Arena {
	t.Helper()
	mgr := tlbmanager.New(newFakeHost(), nil)
	require.NoError(t, mgr.Init(areaSize))
	return New(mgr)
}

func TestArena_AllocSimple(t *testing.T) {
	a := newTestArena(t, 4*4096)
	th := tlb.NewThreadHandle(1, "t1")

	buf, off, ok := a.Alloc(th, 32)
	require.True(t, ok)
	require.NotNil(t, buf)
	require.Equal(t, uint32(0), off)
	require.Same(t, buf, th.CurBuf())
}

func TestArena_OverflowIsSticky(t *testing.T) {
	a := newTestArena(t, 2*4096)
	t1 := tlb.NewThreadHandle(1, "t1")
	t2 := tlb.NewThreadHandle(2, "t2")
	t3 := tlb.NewThreadHandle(3, "t3")

	_, _, ok := a.Alloc(t1, uint16(a.mgr.BufferSize()))
	require.True(t, ok)
	_, _, ok = a.Alloc(t2, uint16(a.mgr.BufferSize()))
	require.True(t, ok)

	_, _, ok = a.Alloc(t3, 8)
	require.False(t, ok, "third thread should overflow: both buffers leased")
	require.True(t, a.Overflow())

	_, _, ok = a.Alloc(t1, 8)
	require.False(t, ok, "overflow must refuse further allocations until Flush")
}

func TestArena_FlushClearsOverflow(t *testing.T) {
	a := newTestArena(t, 2*4096)
	t1 := tlb.NewThreadHandle(1, "t1")
	t2 := tlb.NewThreadHandle(2, "t2")

	_, _, _ = a.Alloc(t1, uint16(a.mgr.BufferSize()))
	_, _, _ = a.Alloc(t2, uint16(a.mgr.BufferSize()))
	_, _, ok := a.Alloc(tlb.NewThreadHandle(3, "t3"), 8)
	require.False(t, ok)
	require.True(t, a.Overflow())

	a.ReleaseThread(t1)
	a.ReleaseThread(t2)
	a.Flush(func(b *tlb.Buffer) {})

	require.False(t, a.Overflow())
}

func TestArena_AllocReferenceReusesAnchorWithinCapacity(t *testing.T) {
	a := newTestArena(t, 4*4096)
	th := tlb.NewThreadHandle(1, "t1")

	buf1, off1, isNew1, ok := a.AllocReference(th, 0, true, 8, 64)
	require.True(t, ok)
	require.True(t, isNew1)

	buf2, off2, isNew2, ok := a.AllocReference(th, 0, false, 8, 64)
	require.True(t, ok)
	require.False(t, isNew2)
	require.Same(t, buf1, buf2)
	require.NotEqual(t, off1, off2)
}

func TestArena_AllocReferenceForcesNewOnRotation(t *testing.T) {
	a := newTestArena(t, 4*4096)
	th := tlb.NewThreadHandle(1, "t1")

	bufSize := a.mgr.BufferSize()
	_, _, _, ok := a.AllocReference(th, 0, true, 8, uint16(bufSize))
	require.True(t, ok)

	// Next call with a full-size payload cannot fit in the same buffer,
	// forcing rotation; isNewReference must be forced true even though
	// the caller passed false.
	_, _, isNew, ok := a.AllocReference(th, 0, false, 8, uint16(bufSize))
	require.True(t, ok)
	require.True(t, isNew, "rotation must force a new reference")
}
