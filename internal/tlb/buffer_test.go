package tlb

import "testing"

func TestBuffer_LeaseResetsState(t *testing.T) {
	buf := NewBuffer(make([]byte, 64))
	owner := NewThreadHandle(1, "t1")

	buf.SetReference(0, 8)
	if _, ok := buf.Reference(0); !ok {
		t.Fatal("expected reference to be set before lease")
	}

	buf.Lease(owner)
	if buf.Owner() != owner {
		t.Fatalf("Owner() = %v, want %v", buf.Owner(), owner)
	}
	if buf.Pos() != 0 {
		t.Fatalf("Pos() after Lease() = %d, want 0", buf.Pos())
	}
	if _, ok := buf.Reference(0); ok {
		t.Fatal("expected reference to be cleared by Lease()")
	}
}

func TestBuffer_LeasePanicsOnDoubleLease(t *testing.T) {
	buf := NewBuffer(make([]byte, 64))
	buf.Lease(NewThreadHandle(1, "t1"))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Lease() on an already-owned buffer to panic")
		}
	}()
	buf.Lease(NewThreadHandle(2, "t2"))
}

func TestBuffer_AllocAdvancesAndAligns(t *testing.T) {
	buf := NewBuffer(make([]byte, 64))
	buf.Lease(NewThreadHandle(1, "t1"))

	off, ok := buf.Alloc(3)
	if !ok || off != 0 {
		t.Fatalf("Alloc(3) = (%d, %v), want (0, true)", off, ok)
	}
	if buf.Pos() != 8 {
		t.Fatalf("Pos() after Alloc(3) = %d, want 8 (word-aligned)", buf.Pos())
	}

	off, ok = buf.Alloc(8)
	if !ok || off != 8 {
		t.Fatalf("Alloc(8) = (%d, %v), want (8, true)", off, ok)
	}
	if buf.Pos() != 16 {
		t.Fatalf("Pos() = %d, want 16", buf.Pos())
	}
}

func TestBuffer_AllocFailsWhenFull(t *testing.T) {
	buf := NewBuffer(make([]byte, 16))
	buf.Lease(NewThreadHandle(1, "t1"))

	if _, ok := buf.Alloc(16); !ok {
		t.Fatal("expected Alloc(16) on a 16-byte buffer to succeed")
	}
	if _, ok := buf.Alloc(1); ok {
		t.Fatal("expected Alloc(1) on an exhausted buffer to fail")
	}
}

func TestBuffer_SetReferenceRoundTrip(t *testing.T) {
	buf := NewBuffer(make([]byte, 64))
	buf.Lease(NewThreadHandle(1, "t1"))

	if _, ok := buf.Reference(0); ok {
		t.Fatal("expected no reference on a freshly leased buffer")
	}
	buf.SetReference(0, 24)
	off, ok := buf.Reference(0)
	if !ok || off != 24 {
		t.Fatalf("Reference(0) = (%d, %v), want (24, true)", off, ok)
	}
}

func TestThreadHandle_CurBuf(t *testing.T) {
	th := NewThreadHandle(1, "t1")
	if th.CurBuf() != nil {
		t.Fatal("expected nil CurBuf() on a fresh handle")
	}
	buf := NewBuffer(make([]byte, 16))
	th.SetCurBuf(buf)
	if th.CurBuf() != buf {
		t.Fatalf("CurBuf() = %v, want %v", th.CurBuf(), buf)
	}
}
