package fmrbcore

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the link round-trip latency histogram buckets in
// nanoseconds. Buckets cover from 100us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 6

// Metrics tracks operational statistics for a runtime instance: process
// lifecycle, bus traffic, link transport, and allocator pressure.
type Metrics struct {
	// Process lifecycle counters.
	ProcessSpawns   atomic.Uint64
	ProcessKills    atomic.Uint64
	ProcessCrashes  atomic.Uint64
	SpawnFailures   atomic.Uint64

	// Bus counters.
	BusSends      atomic.Uint64
	BusReceives   atomic.Uint64
	BusSendFails  atomic.Uint64
	BusBroadcasts atomic.Uint64
	BusQueueFull  atomic.Uint64

	// Link transport counters.
	LinkFramesSent atomic.Uint64
	LinkFramesRecv atomic.Uint64
	LinkRetransmits atomic.Uint64
	LinkTimeouts    atomic.Uint64
	LinkChecksumErrors atomic.Uint64
	LinkSyncRequests   atomic.Uint64

	// Allocator counters.
	AllocOOMEvents atomic.Uint64
	AllocRequests  atomic.Uint64
	AllocFrees     atomic.Uint64

	// Round-trip latency tracking (link send_sync to ack).
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts).
	LatencyHist [numLatencyBuckets]atomic.Uint64

	// Runtime lifecycle.
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSpawn records a successful process spawn.
func (m *Metrics) RecordSpawn() { m.ProcessSpawns.Add(1) }

// RecordSpawnFailure records a spawn attempt that failed (no free slot, bad params).
func (m *Metrics) RecordSpawnFailure() { m.SpawnFailures.Add(1) }

// RecordKill records a process kill (Stopping -> Zombie -> Free transition).
func (m *Metrics) RecordKill() { m.ProcessKills.Add(1) }

// RecordCrash records an unexpected process termination.
func (m *Metrics) RecordCrash() { m.ProcessCrashes.Add(1) }

// RecordBusSend records a bus send, successful or not.
func (m *Metrics) RecordBusSend(success bool) {
	m.BusSends.Add(1)
	if !success {
		m.BusSendFails.Add(1)
	}
}

// RecordBusReceive records a bus receive.
func (m *Metrics) RecordBusReceive() { m.BusReceives.Add(1) }

// RecordBusBroadcast records a broadcast fan-out.
func (m *Metrics) RecordBusBroadcast() { m.BusBroadcasts.Add(1) }

// RecordBusQueueFull records a send rejected because the target queue is full.
func (m *Metrics) RecordBusQueueFull() { m.BusQueueFull.Add(1) }

// RecordLinkFrameSent records a frame written to the link.
func (m *Metrics) RecordLinkFrameSent() { m.LinkFramesSent.Add(1) }

// RecordLinkFrameReceived records a frame decoded off the link.
func (m *Metrics) RecordLinkFrameReceived() { m.LinkFramesRecv.Add(1) }

// RecordLinkRetransmit records a retransmission of an unacked frame.
func (m *Metrics) RecordLinkRetransmit() { m.LinkRetransmits.Add(1) }

// RecordLinkTimeout records a sync request that timed out waiting for an ack.
func (m *Metrics) RecordLinkTimeout() { m.LinkTimeouts.Add(1) }

// RecordLinkChecksumError records a frame dropped for a bad CRC32.
func (m *Metrics) RecordLinkChecksumError() { m.LinkChecksumErrors.Add(1) }

// RecordLinkSyncRequest records a synchronous request, with round-trip latency.
func (m *Metrics) RecordLinkSyncRequest(latencyNs uint64) {
	m.LinkSyncRequests.Add(1)
	m.recordLatency(latencyNs)
}

// RecordAllocRequest records an allocation attempt, successful or not.
func (m *Metrics) RecordAllocRequest(ok bool) {
	m.AllocRequests.Add(1)
	if !ok {
		m.AllocOOMEvents.Add(1)
	}
}

// RecordAllocFree records a free.
func (m *Metrics) RecordAllocFree() { m.AllocFrees.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// Stop marks the runtime as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, race-free copy of Metrics.
type MetricsSnapshot struct {
	ProcessSpawns  uint64
	ProcessKills   uint64
	ProcessCrashes uint64
	SpawnFailures  uint64

	BusSends      uint64
	BusReceives   uint64
	BusSendFails  uint64
	BusBroadcasts uint64
	BusQueueFull  uint64

	LinkFramesSent     uint64
	LinkFramesRecv     uint64
	LinkRetransmits    uint64
	LinkTimeouts       uint64
	LinkChecksumErrors uint64
	LinkSyncRequests   uint64

	AllocOOMEvents uint64
	AllocRequests  uint64
	AllocFrees     uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ProcessSpawns:  m.ProcessSpawns.Load(),
		ProcessKills:   m.ProcessKills.Load(),
		ProcessCrashes: m.ProcessCrashes.Load(),
		SpawnFailures:  m.SpawnFailures.Load(),

		BusSends:      m.BusSends.Load(),
		BusReceives:   m.BusReceives.Load(),
		BusSendFails:  m.BusSendFails.Load(),
		BusBroadcasts: m.BusBroadcasts.Load(),
		BusQueueFull:  m.BusQueueFull.Load(),

		LinkFramesSent:     m.LinkFramesSent.Load(),
		LinkFramesRecv:     m.LinkFramesRecv.Load(),
		LinkRetransmits:    m.LinkRetransmits.Load(),
		LinkTimeouts:       m.LinkTimeouts.Load(),
		LinkChecksumErrors: m.LinkChecksumErrors.Load(),
		LinkSyncRequests:   m.LinkSyncRequests.Load(),

		AllocOOMEvents: m.AllocOOMEvents.Load(),
		AllocRequests:  m.AllocRequests.Load(),
		AllocFrees:     m.AllocFrees.Load(),
	}

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

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
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
		bucketCount := m.LatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHist[i-1].Load()
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

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.ProcessSpawns.Store(0)
	m.ProcessKills.Store(0)
	m.ProcessCrashes.Store(0)
	m.SpawnFailures.Store(0)
	m.BusSends.Store(0)
	m.BusReceives.Store(0)
	m.BusSendFails.Store(0)
	m.BusBroadcasts.Store(0)
	m.BusQueueFull.Store(0)
	m.LinkFramesSent.Store(0)
	m.LinkFramesRecv.Store(0)
	m.LinkRetransmits.Store(0)
	m.LinkTimeouts.Store(0)
	m.LinkChecksumErrors.Store(0)
	m.LinkSyncRequests.Store(0)
	m.AllocOOMEvents.Store(0)
	m.AllocRequests.Store(0)
	m.AllocFrees.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHist[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection by runtime components that
// should not import *Metrics directly.
type Observer interface {
	ObserveSpawn(ok bool)
	ObserveKill()
	ObserveBusSend(ok bool)
	ObserveBusReceive()
	ObserveLinkSyncRequest(latencyNs uint64)
	ObserveAlloc(ok bool)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSpawn(bool)               {}
func (NoOpObserver) ObserveKill()                    {}
func (NoOpObserver) ObserveBusSend(bool)              {}
func (NoOpObserver) ObserveBusReceive()              {}
func (NoOpObserver) ObserveLinkSyncRequest(uint64)   {}
func (NoOpObserver) ObserveAlloc(bool)               {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSpawn(ok bool) {
	if ok {
		o.metrics.RecordSpawn()
	} else {
		o.metrics.RecordSpawnFailure()
	}
}

func (o *MetricsObserver) ObserveKill() { o.metrics.RecordKill() }

func (o *MetricsObserver) ObserveBusSend(ok bool) { o.metrics.RecordBusSend(ok) }

func (o *MetricsObserver) ObserveBusReceive() { o.metrics.RecordBusReceive() }

func (o *MetricsObserver) ObserveLinkSyncRequest(latencyNs uint64) {
	o.metrics.RecordLinkSyncRequest(latencyNs)
}

func (o *MetricsObserver) ObserveAlloc(ok bool) { o.metrics.RecordAllocRequest(ok) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
