package rpma

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
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

// Metrics tracks per-zone performance and operational statistics across all
// of its connections: two-sided messaging (send/recv) and one-sided RMA
// (read/write/atomic_write/commit).
type Metrics struct {
	// Two-sided messaging counters
	SendOps atomic.Uint64
	RecvOps atomic.Uint64

	// One-sided RMA counters
	ReadOps        atomic.Uint64
	WriteOps       atomic.Uint64
	AtomicWriteOps atomic.Uint64
	CommitOps      atomic.Uint64

	// Byte counters
	SendBytes  atomic.Uint64
	RecvBytes  atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters
	SendErrors  atomic.Uint64
	RecvErrors  atomic.Uint64
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64

	// Connection lifecycle
	ConnectionsAccepted atomic.Uint64
	ConnectionsClosed   atomic.Uint64

	// Parked completions: entries cq_wait routed to the dispatcher/on_recv
	// instead of consuming directly (spec.md §4.3, §8 boundary behavior).
	ParkedCompletions atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // Total operations (for average latency calculation)

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Zone lifecycle
	StartTime atomic.Int64 // Zone creation timestamp (UnixNano)
	StopTime  atomic.Int64 // wait_break timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a two-sided send completion.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a two-sided receive delivered to on_recv.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRead records a one-sided RMA read.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a one-sided RMA write (fire-and-forget; latency is
// issuance latency, not remote-visibility latency).
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAtomicWrite records a one-sided 8-byte atomic remote write.
func (m *Metrics) RecordAtomicWrite(latencyNs uint64, success bool) {
	m.AtomicWriteOps.Add(1)
	if !success {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordCommit records a read-after-write barrier completion.
func (m *Metrics) RecordCommit(latencyNs uint64, success bool) {
	m.CommitOps.Add(1)
	if !success {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordConnectionAccepted records a connection transitioning to Connected.
func (m *Metrics) RecordConnectionAccepted() {
	m.ConnectionsAccepted.Add(1)
}

// RecordConnectionClosed records a connection transitioning to Terminated.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsClosed.Add(1)
}

// RecordParkedCompletion records cq_wait deferring a mismatched CQ entry.
func (m *Metrics) RecordParkedCompletion() {
	m.ParkedCompletions.Add(1)
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the zone as stopped (wait_break fired).
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics.
type MetricsSnapshot struct {
	SendOps        uint64
	RecvOps        uint64
	ReadOps        uint64
	WriteOps       uint64
	AtomicWriteOps uint64
	CommitOps      uint64

	SendBytes  uint64
	RecvBytes  uint64
	ReadBytes  uint64
	WriteBytes uint64

	SendErrors  uint64
	RecvErrors  uint64
	ReadErrors  uint64
	WriteErrors uint64

	ConnectionsAccepted uint64
	ConnectionsClosed   uint64
	ActiveConnections   int64
	ParkedCompletions   uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:             m.SendOps.Load(),
		RecvOps:             m.RecvOps.Load(),
		ReadOps:             m.ReadOps.Load(),
		WriteOps:            m.WriteOps.Load(),
		AtomicWriteOps:      m.AtomicWriteOps.Load(),
		CommitOps:           m.CommitOps.Load(),
		SendBytes:           m.SendBytes.Load(),
		RecvBytes:           m.RecvBytes.Load(),
		ReadBytes:           m.ReadBytes.Load(),
		WriteBytes:          m.WriteBytes.Load(),
		SendErrors:          m.SendErrors.Load(),
		RecvErrors:          m.RecvErrors.Load(),
		ReadErrors:          m.ReadErrors.Load(),
		WriteErrors:         m.WriteErrors.Load(),
		ConnectionsAccepted: m.ConnectionsAccepted.Load(),
		ConnectionsClosed:   m.ConnectionsClosed.Load(),
		ParkedCompletions:   m.ParkedCompletions.Load(),
	}

	snap.ActiveConnections = int64(snap.ConnectionsAccepted) - int64(snap.ConnectionsClosed)
	snap.TotalOps = snap.SendOps + snap.RecvOps + snap.ReadOps + snap.WriteOps + snap.AtomicWriteOps + snap.CommitOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes + snap.ReadBytes + snap.WriteBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.SendErrors + snap.RecvErrors + snap.ReadErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
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
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.AtomicWriteOps.Store(0)
	m.CommitOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.ConnectionsAccepted.Store(0)
	m.ConnectionsClosed.Store(0)
	m.ParkedCompletions.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, driven from the dispatcher
// and connection hot paths. Implementations must be thread-safe.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveAtomicWrite(latencyNs uint64, success bool)
	ObserveCommit(latencyNs uint64, success bool)
	ObserveConnectionAccepted()
	ObserveConnectionClosed()
	ObserveParkedCompletion()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveRead(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveAtomicWrite(uint64, bool)    {}
func (NoOpObserver) ObserveCommit(uint64, bool)         {}
func (NoOpObserver) ObserveConnectionAccepted()         {}
func (NoOpObserver) ObserveConnectionClosed()           {}
func (NoOpObserver) ObserveParkedCompletion()           {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRead(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAtomicWrite(latencyNs uint64, success bool) {
	o.metrics.RecordAtomicWrite(latencyNs, success)
}

func (o *MetricsObserver) ObserveCommit(latencyNs uint64, success bool) {
	o.metrics.RecordCommit(latencyNs, success)
}

func (o *MetricsObserver) ObserveConnectionAccepted() {
	o.metrics.RecordConnectionAccepted()
}

func (o *MetricsObserver) ObserveConnectionClosed() {
	o.metrics.RecordConnectionClosed()
}

func (o *MetricsObserver) ObserveParkedCompletion() {
	o.metrics.RecordParkedCompletion()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
