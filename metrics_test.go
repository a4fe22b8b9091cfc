package rpma

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRead(1024, 1000000, true)  // 1KB RMA read, 1ms latency, success
	m.RecordWrite(2048, 2000000, true) // 2KB RMA write, 2ms latency, success
	m.RecordRead(512, 500000, false)   // 512B RMA read, 0.5ms latency, error

	snap = m.Snapshot()

	if snap.ReadOps != 2 {
		t.Errorf("Expected 2 read ops, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}

	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes, got %d", snap.WriteBytes)
	}

	if snap.ReadErrors != 1 {
		t.Errorf("Expected 1 read error, got %d", snap.ReadErrors)
	}
	if snap.WriteErrors != 0 {
		t.Errorf("Expected 0 write errors, got %d", snap.WriteErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsTwoSided(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(30, 100_000, true)
	m.RecordRecv(30, 120_000, true)
	m.RecordSend(30, 90_000, false)

	snap := m.Snapshot()

	if snap.SendOps != 2 {
		t.Errorf("Expected 2 send ops, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op, got %d", snap.RecvOps)
	}
	if snap.SendBytes != 30 {
		t.Errorf("Expected 30 send bytes (only successful), got %d", snap.SendBytes)
	}
	if snap.SendErrors != 1 {
		t.Errorf("Expected 1 send error, got %d", snap.SendErrors)
	}
}

func TestMetricsAtomicWriteAndCommit(t *testing.T) {
	m := NewMetrics()

	m.RecordAtomicWrite(50_000, true)
	m.RecordAtomicWrite(60_000, false)
	m.RecordCommit(200_000, true)

	snap := m.Snapshot()

	if snap.AtomicWriteOps != 2 {
		t.Errorf("Expected 2 atomic write ops, got %d", snap.AtomicWriteOps)
	}
	if snap.WriteErrors != 1 {
		t.Errorf("Expected 1 write error from failed atomic write, got %d", snap.WriteErrors)
	}
	if snap.CommitOps != 1 {
		t.Errorf("Expected 1 commit op, got %d", snap.CommitOps)
	}
}

func TestMetricsConnectionLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()

	snap := m.Snapshot()
	if snap.ConnectionsAccepted != 2 {
		t.Errorf("Expected 2 connections accepted, got %d", snap.ConnectionsAccepted)
	}
	if snap.ConnectionsClosed != 1 {
		t.Errorf("Expected 1 connection closed, got %d", snap.ConnectionsClosed)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("Expected 1 active connection, got %d", snap.ActiveConnections)
	}
}

func TestMetricsParkedCompletion(t *testing.T) {
	m := NewMetrics()

	m.RecordParkedCompletion()
	m.RecordParkedCompletion()

	snap := m.Snapshot()
	if snap.ParkedCompletions != 2 {
		t.Errorf("Expected 2 parked completions, got %d", snap.ParkedCompletions)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(1024, 1000000, true)
	m.RecordWrite(1024, 2000000, true)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(1024, 1000000, true)
	m.RecordWrite(2048, 2000000, true)
	m.RecordConnectionAccepted()

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.ConnectionsAccepted != 0 {
		t.Errorf("Expected 0 connections accepted after reset, got %d", snap.ConnectionsAccepted)
	}
}

func TestObserver(t *testing.T) {
	observer := NoOpObserver{}
	observer.ObserveRead(1024, 1000000, true)
	observer.ObserveWrite(1024, 1000000, true)
	observer.ObserveSend(30, 100_000, true)
	observer.ObserveRecv(30, 100_000, true)
	observer.ObserveAtomicWrite(50_000, true)
	observer.ObserveCommit(200_000, true)
	observer.ObserveConnectionAccepted()
	observer.ObserveConnectionClosed()
	observer.ObserveParkedCompletion()

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveRead(1024, 1000000, true)
	metricsObserver.ObserveWrite(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.ReadOps != 1 {
		t.Errorf("Expected 1 read op from observer, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op from observer, got %d", snap.WriteOps)
	}
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes from observer, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes from observer, got %d", snap.WriteBytes)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRead(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordWrite(1024, 5_000_000, true) // 5ms
	}
	m.RecordWrite(1024, 50_000_000, true) // 50ms, the single slowest op

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
