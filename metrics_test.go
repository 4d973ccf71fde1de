package fmrbcore

import (
	"testing"
	"time"
)

func TestMetricsLifecycle(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.ProcessSpawns != 0 {
		t.Errorf("expected 0 initial spawns, got %d", snap.ProcessSpawns)
	}

	m.RecordSpawn()
	m.RecordSpawn()
	m.RecordSpawnFailure()
	m.RecordKill()

	snap = m.Snapshot()
	if snap.ProcessSpawns != 2 {
		t.Errorf("expected 2 spawns, got %d", snap.ProcessSpawns)
	}
	if snap.SpawnFailures != 1 {
		t.Errorf("expected 1 spawn failure, got %d", snap.SpawnFailures)
	}
	if snap.ProcessKills != 1 {
		t.Errorf("expected 1 kill, got %d", snap.ProcessKills)
	}
}

func TestMetricsBus(t *testing.T) {
	m := NewMetrics()

	m.RecordBusSend(true)
	m.RecordBusSend(false)
	m.RecordBusReceive()
	m.RecordBusBroadcast()
	m.RecordBusQueueFull()

	snap := m.Snapshot()
	if snap.BusSends != 2 {
		t.Errorf("expected 2 sends, got %d", snap.BusSends)
	}
	if snap.BusSendFails != 1 {
		t.Errorf("expected 1 send failure, got %d", snap.BusSendFails)
	}
	if snap.BusReceives != 1 {
		t.Errorf("expected 1 receive, got %d", snap.BusReceives)
	}
	if snap.BusBroadcasts != 1 {
		t.Errorf("expected 1 broadcast, got %d", snap.BusBroadcasts)
	}
	if snap.BusQueueFull != 1 {
		t.Errorf("expected 1 queue-full, got %d", snap.BusQueueFull)
	}
}

func TestMetricsLink(t *testing.T) {
	m := NewMetrics()

	m.RecordLinkFrameSent()
	m.RecordLinkFrameReceived()
	m.RecordLinkRetransmit()
	m.RecordLinkTimeout()
	m.RecordLinkChecksumError()
	m.RecordLinkSyncRequest(1_000_000) // 1ms

	snap := m.Snapshot()
	if snap.LinkFramesSent != 1 || snap.LinkFramesRecv != 1 {
		t.Errorf("expected 1 sent/received frame, got sent=%d recv=%d", snap.LinkFramesSent, snap.LinkFramesRecv)
	}
	if snap.LinkRetransmits != 1 {
		t.Errorf("expected 1 retransmit, got %d", snap.LinkRetransmits)
	}
	if snap.LinkTimeouts != 1 {
		t.Errorf("expected 1 timeout, got %d", snap.LinkTimeouts)
	}
	if snap.LinkChecksumErrors != 1 {
		t.Errorf("expected 1 checksum error, got %d", snap.LinkChecksumErrors)
	}
	if snap.LinkSyncRequests != 1 {
		t.Errorf("expected 1 sync request, got %d", snap.LinkSyncRequests)
	}
	if snap.AvgLatencyNs != 1_000_000 {
		t.Errorf("expected avg latency 1ms, got %d ns", snap.AvgLatencyNs)
	}
}

func TestMetricsAlloc(t *testing.T) {
	m := NewMetrics()

	m.RecordAllocRequest(true)
	m.RecordAllocRequest(false)
	m.RecordAllocFree()

	snap := m.Snapshot()
	if snap.AllocRequests != 2 {
		t.Errorf("expected 2 alloc requests, got %d", snap.AllocRequests)
	}
	if snap.AllocOOMEvents != 1 {
		t.Errorf("expected 1 OOM event, got %d", snap.AllocOOMEvents)
	}
	if snap.AllocFrees != 1 {
		t.Errorf("expected 1 free, got %d", snap.AllocFrees)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSpawn()
	m.RecordBusSend(true)
	m.RecordLinkSyncRequest(500_000)

	snap := m.Snapshot()
	if snap.ProcessSpawns == 0 {
		t.Error("expected spawns recorded before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.ProcessSpawns != 0 || snap.BusSends != 0 || snap.LinkSyncRequests != 0 {
		t.Errorf("expected all counters zero after reset, got %+v", snap)
	}
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordLinkSyncRequest(50_000) // 50us
	}
	for i := 0; i < 49; i++ {
		m.RecordLinkSyncRequest(5_000_000) // 5ms
	}
	m.RecordLinkSyncRequest(50_000_000) // 50ms, the P99

	snap := m.Snapshot()
	if snap.LinkSyncRequests != 100 {
		t.Errorf("expected 100 sync requests, got %d", snap.LinkSyncRequests)
	}

	if snap.LatencyP99Ns < 1_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("expected P99 in 1ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	var totalInBuckets uint64
	for _, c := range snap.LatencyHistogram {
		totalInBuckets += c
	}
	if totalInBuckets == 0 {
		t.Error("expected histogram buckets to be populated")
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSpawn(true)
	observer.ObserveKill()
	observer.ObserveBusSend(true)
	observer.ObserveBusReceive()
	observer.ObserveLinkSyncRequest(1000)
	observer.ObserveAlloc(true)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSpawn(true)
	metricsObserver.ObserveBusSend(false)
	metricsObserver.ObserveAlloc(false)

	snap := m.Snapshot()
	if snap.ProcessSpawns != 1 {
		t.Errorf("expected 1 spawn from observer, got %d", snap.ProcessSpawns)
	}
	if snap.BusSendFails != 1 {
		t.Errorf("expected 1 bus send failure from observer, got %d", snap.BusSendFails)
	}
	if snap.AllocOOMEvents != 1 {
		t.Errorf("expected 1 OOM event from observer, got %d", snap.AllocOOMEvents)
	}
}
