package crs

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the flush-latency histogram buckets in
// nanoseconds, covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a running
// Engine.
type Metrics struct {
	// Record counters
	ClassLoads        atomic.Uint64
	ClassLoadsBlown    atomic.Uint64
	FirstCalls         atomic.Uint64
	FirstCallsBlown    atomic.Uint64
	Tombstones         atomic.Uint64

	// Overflow accounting (spec.md §4.4's sticky overflow flag).
	// OverflowBytesReclaimed sums the bytes every flush reclaimed, whether
	// or not an overflow occurred; bytes of refused allocations are not
	// counted anywhere.
	OverflowEvents        atomic.Uint64
	OverflowBytesReclaimed atomic.Uint64

	// Flush statistics
	FlushOps       atomic.Uint64
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	// LatencyHistogram[i] counts flushes with latency <= LatencyBuckets[i].
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	// Event delivery
	EventsScheduled     atomic.Uint64
	EventsDelivered     atomic.Uint64
	EventDeliveryErrors atomic.Uint64

	// Buffer pool gauges, refreshed from TLBManager by the Engine.
	BuffersCommitted atomic.Int32
	BytesUsed        atomic.Int64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordClassLoad records a CLASS_LOAD record having been posted or, if
// blown, a CLASS_LOAD_BLOWN record having been scheduled by a flush.
func (m *Metrics) RecordClassLoad(blown bool) {
	if blown {
		m.ClassLoadsBlown.Add(1)
	} else {
		m.ClassLoads.Add(1)
	}
}

// RecordFirstCall records a FIRST_CALL record having been posted or, if
// blown, a FIRST_CALL_BLOWN record having been scheduled by a flush.
func (m *Metrics) RecordFirstCall(blown bool) {
	if blown {
		m.FirstCallsBlown.Add(1)
	} else {
		m.FirstCalls.Add(1)
	}
}

// RecordTombstone records a record having been tombstoned during
// eviction.
func (m *Metrics) RecordTombstone() {
	m.Tombstones.Add(1)
}

// RecordOverflow records an allocation refused due to arena overflow.
func (m *Metrics) RecordOverflow() {
	m.OverflowEvents.Add(1)
}

// RecordFlush records a completed flush pass: its latency and the
// number of bytes it reclaimed back to free/uncommitted.
func (m *Metrics) RecordFlush(latencyNs uint64, bytesReclaimed uint64) {
	m.FlushOps.Add(1)
	m.OverflowBytesReclaimed.Add(bytesReclaimed)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// RecordEventScheduled records an event having been appended to the
// notification queue.
func (m *Metrics) RecordEventScheduled() {
	m.EventsScheduled.Add(1)
}

// RecordEventDelivery records the outcome of one upstream dispatch.
func (m *Metrics) RecordEventDelivery(success bool) {
	if success {
		m.EventsDelivered.Add(1)
	} else {
		m.EventDeliveryErrors.Add(1)
	}
}

// SetBufferGauges refreshes the point-in-time buffer pool gauges.
func (m *Metrics) SetBufferGauges(committed int32, bytesUsed int64) {
	m.BuffersCommitted.Store(committed)
	m.BytesUsed.Store(bytesUsed)
}

// Stop marks the engine as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ClassLoads      uint64
	ClassLoadsBlown uint64
	FirstCalls      uint64
	FirstCallsBlown uint64
	Tombstones      uint64

	OverflowEvents         uint64
	OverflowBytesReclaimed uint64

	FlushOps     uint64
	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	EventsScheduled     uint64
	EventsDelivered     uint64
	EventDeliveryErrors uint64

	BuffersCommitted int32
	BytesUsed        int64
}

// Snapshot creates a point-in-time snapshot of metrics, including
// derived latency percentiles estimated from the histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ClassLoads:             m.ClassLoads.Load(),
		ClassLoadsBlown:        m.ClassLoadsBlown.Load(),
		FirstCalls:             m.FirstCalls.Load(),
		FirstCallsBlown:        m.FirstCallsBlown.Load(),
		Tombstones:             m.Tombstones.Load(),
		OverflowEvents:         m.OverflowEvents.Load(),
		OverflowBytesReclaimed: m.OverflowBytesReclaimed.Load(),
		FlushOps:               m.FlushOps.Load(),
		EventsScheduled:        m.EventsScheduled.Load(),
		EventsDelivered:        m.EventsDelivered.Load(),
		EventDeliveryErrors:    m.EventDeliveryErrors.Load(),
		BuffersCommitted:       m.BuffersCommitted.Load(),
		BytesUsed:              m.BytesUsed.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the flush latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.ClassLoads.Store(0)
	m.ClassLoadsBlown.Store(0)
	m.FirstCalls.Store(0)
	m.FirstCallsBlown.Store(0)
	m.Tombstones.Store(0)
	m.OverflowEvents.Store(0)
	m.OverflowBytesReclaimed.Store(0)
	m.FlushOps.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	m.EventsScheduled.Store(0)
	m.EventsDelivered.Store(0)
	m.EventDeliveryErrors.Store(0)
	m.BuffersCommitted.Store(0)
	m.BytesUsed.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, mirrored onto the
// built-in Metrics type by MetricsObserver.
type Observer interface {
	ObserveClassLoad(blown bool)
	ObserveFirstCall(blown bool)
	ObserveTombstone()
	ObserveOverflow()
	ObserveFlush(latencyNs uint64, bytesReclaimed uint64)
	ObserveEventScheduled()
	ObserveEventDelivery(success bool)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveClassLoad(bool)               {}
func (NoOpObserver) ObserveFirstCall(bool)                {}
func (NoOpObserver) ObserveTombstone()                    {}
func (NoOpObserver) ObserveOverflow()                      {}
func (NoOpObserver) ObserveFlush(uint64, uint64)           {}
func (NoOpObserver) ObserveEventScheduled()                {}
func (NoOpObserver) ObserveEventDelivery(bool)             {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given
// metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveClassLoad(blown bool) { o.metrics.RecordClassLoad(blown) }
func (o *MetricsObserver) ObserveFirstCall(blown bool) { o.metrics.RecordFirstCall(blown) }
func (o *MetricsObserver) ObserveTombstone()           { o.metrics.RecordTombstone() }
func (o *MetricsObserver) ObserveOverflow()            { o.metrics.RecordOverflow() }
func (o *MetricsObserver) ObserveFlush(latencyNs, bytesReclaimed uint64) {
	o.metrics.RecordFlush(latencyNs, bytesReclaimed)
}
func (o *MetricsObserver) ObserveEventScheduled()        { o.metrics.RecordEventScheduled() }
func (o *MetricsObserver) ObserveEventDelivery(success bool) { o.metrics.RecordEventDelivery(success) }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
