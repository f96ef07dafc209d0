package eventqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_ScheduleAndNotifyFIFOOrder(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.Schedule(NewClassLoadEvent(ClassLoadPayload{ClassID: uint64(i)}))
	}
	if !q.ShouldNotify() {
		t.Fatal("ShouldNotify should be true after Schedule")
	}

	var got []uint64
	q.NotifyJava(func(ev *Event) {
		got = append(got, ev.ClassLoad.ClassID)
	})

	want := []uint64{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
	if q.ShouldNotify() {
		t.Error("ShouldNotify should be false after drain")
	}
}

func TestQueue_NotifyJavaOnEmptyQueueIsNoop(t *testing.T) {
	q := New()
	called := false
	q.NotifyJava(func(ev *Event) { called = true })
	if called {
		t.Error("dispatch should not be called on empty queue")
	}
}

func TestQueue_DisableStopsFurtherDelivery(t *testing.T) {
	q := New()
	q.Schedule(NewClassLoadEvent(ClassLoadPayload{ClassID: 1}))
	q.Disable()

	delivered := 0
	q.NotifyJava(func(ev *Event) { delivered++ })
	if delivered != 0 {
		t.Errorf("expected no delivery after Disable, got %d", delivered)
	}

	// Scheduling after Disable must not panic or queue the event.
	q.Schedule(NewClassLoadEvent(ClassLoadPayload{ClassID: 2}))
}

func TestQueue_RunDeliversAndStopsOnContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var delivered []uint64
	done := make(chan struct{})

	go func() {
		q.Run(ctx, func(ev *Event) {
			mu.Lock()
			delivered = append(delivered, ev.ClassLoad.ClassID)
			mu.Unlock()
		})
		close(done)
	}()

	q.Schedule(NewClassLoadEvent(ClassLoadPayload{ClassID: 7}))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Run to deliver scheduled event")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestQueue_RunStopsOnDisable(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		q.Run(context.Background(), func(ev *Event) {})
		close(done)
	}()

	// Give Run a chance to reach cond.Wait before disabling.
	time.Sleep(10 * time.Millisecond)
	q.Disable()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disable")
	}
}
