package crs

import (
	"testing"
	"time"
)

func TestMetrics_RecordCounters(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.ClassLoads != 0 || snap.FlushOps != 0 {
		t.Fatalf("expected zero initial counters, got %+v", snap)
	}

	m.RecordClassLoad(false)
	m.RecordClassLoad(true)
	m.RecordFirstCall(false)
	m.RecordTombstone()
	m.RecordOverflow()

	snap = m.Snapshot()
	if snap.ClassLoads != 1 {
		t.Errorf("ClassLoads = %d, want 1", snap.ClassLoads)
	}
	if snap.ClassLoadsBlown != 1 {
		t.Errorf("ClassLoadsBlown = %d, want 1", snap.ClassLoadsBlown)
	}
	if snap.FirstCalls != 1 {
		t.Errorf("FirstCalls = %d, want 1", snap.FirstCalls)
	}
	if snap.Tombstones != 1 {
		t.Errorf("Tombstones = %d, want 1", snap.Tombstones)
	}
	if snap.OverflowEvents != 1 {
		t.Errorf("OverflowEvents = %d, want 1", snap.OverflowEvents)
	}
}

func TestMetrics_RecordFlush(t *testing.T) {
	m := NewMetrics()

	m.RecordFlush(1_000_000, 4096)
	m.RecordFlush(2_000_000, 8192)

	snap := m.Snapshot()
	if snap.FlushOps != 2 {
		t.Errorf("FlushOps = %d, want 2", snap.FlushOps)
	}
	if snap.OverflowBytesReclaimed != 4096+8192 {
		t.Errorf("OverflowBytesReclaimed = %d, want %d", snap.OverflowBytesReclaimed, 4096+8192)
	}
	if snap.AvgLatencyNs != 1_500_000 {
		t.Errorf("AvgLatencyNs = %d, want 1500000", snap.AvgLatencyNs)
	}
}

func TestMetrics_EventDelivery(t *testing.T) {
	m := NewMetrics()

	m.RecordEventScheduled()
	m.RecordEventScheduled()
	m.RecordEventDelivery(true)
	m.RecordEventDelivery(false)

	snap := m.Snapshot()
	if snap.EventsScheduled != 2 {
		t.Errorf("EventsScheduled = %d, want 2", snap.EventsScheduled)
	}
	if snap.EventsDelivered != 1 {
		t.Errorf("EventsDelivered = %d, want 1", snap.EventsDelivered)
	}
	if snap.EventDeliveryErrors != 1 {
		t.Errorf("EventDeliveryErrors = %d, want 1", snap.EventDeliveryErrors)
	}
}

func TestMetrics_BufferGauges(t *testing.T) {
	m := NewMetrics()
	m.SetBufferGauges(3, 24576)

	snap := m.Snapshot()
	if snap.BuffersCommitted != 3 {
		t.Errorf("BuffersCommitted = %d, want 3", snap.BuffersCommitted)
	}
	if snap.BytesUsed != 24576 {
		t.Errorf("BytesUsed = %d, want 24576", snap.BytesUsed)
	}
}

func TestMetrics_Uptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*time.Millisecond.Nanoseconds()/2 {
		t.Errorf("expected nonzero uptime, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	stoppedUptime := m.Snapshot().UptimeNs
	time.Sleep(5 * time.Millisecond)
	if m.Snapshot().UptimeNs != stoppedUptime {
		t.Error("uptime should not advance after Stop")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordClassLoad(false)
	m.RecordFlush(1000, 10)

	if m.Snapshot().ClassLoads == 0 {
		t.Fatal("expected nonzero counters before reset")
	}

	m.Reset()
	snap := m.Snapshot()
	if snap.ClassLoads != 0 || snap.FlushOps != 0 || snap.OverflowBytesReclaimed != 0 {
		t.Errorf("expected all counters zero after reset, got %+v", snap)
	}
}

func TestMetrics_HistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordFlush(500_000, 0) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordFlush(5_000_000, 0) // 5ms
	}
	m.RecordFlush(50_000_000, 0) // 50ms

	snap := m.Snapshot()
	if snap.FlushOps != 100 {
		t.Fatalf("FlushOps = %d, want 100", snap.FlushOps)
	}
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("P50 = %d ns, want in [100us, 1ms]", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("P99 = %d ns, want in [5ms, 100ms]", snap.LatencyP99Ns)
	}
}

func TestObserver_NoOpDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	o.ObserveClassLoad(false)
	o.ObserveFirstCall(true)
	o.ObserveTombstone()
	o.ObserveOverflow()
	o.ObserveFlush(1000, 10)
	o.ObserveEventScheduled()
	o.ObserveEventDelivery(true)
}

func TestMetricsObserver_ForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveClassLoad(false)
	o.ObserveFirstCall(false)

	snap := m.Snapshot()
	if snap.ClassLoads != 1 {
		t.Errorf("ClassLoads = %d, want 1", snap.ClassLoads)
	}
	if snap.FirstCalls != 1 {
		t.Errorf("FirstCalls = %d, want 1", snap.FirstCalls)
	}
}
