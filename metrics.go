package corosrv

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/corosrv/internal/interfaces"
)

// LatencyBuckets defines the execute_io suspend-resume latency histogram
// buckets in nanoseconds, log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks runtime-wide operational statistics: how busy the ready
// queue is, how many coroutines are alive, how waiters move through the
// synchronization primitives, and how long suspend/resume round-trips take.
type Metrics struct {
	CoroutinesSpawned  atomic.Uint64
	CoroutinesFinished atomic.Uint64

	ReadyQueueDepthTotal atomic.Uint64
	ReadyQueueSamples    atomic.Uint64
	MaxReadyQueueDepth   atomic.Uint32

	WaitersBlocked  atomic.Uint64
	WaitersResumed  atomic.Uint64
	WaitersAborted  atomic.Uint64
	NodesReclaimed  atomic.Uint64

	TotalExecuteIOLatencyNs atomic.Uint64
	ExecuteIOCount          atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordReadyQueueDepth(depth int) {
	m.ReadyQueueDepthTotal.Add(uint64(depth))
	m.ReadyQueueSamples.Add(1)
	for {
		current := m.MaxReadyQueueDepth.Load()
		if uint32(depth) <= current {
			break
		}
		if m.MaxReadyQueueDepth.CompareAndSwap(current, uint32(depth)) {
			break
		}
	}
}

func (m *Metrics) recordExecuteIOLatency(latencyNs uint64) {
	m.TotalExecuteIOLatencyNs.Add(latencyNs)
	m.ExecuteIOCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the service as stopped, fixing the uptime computed by Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time view of Metrics with derived statistics.
type Snapshot struct {
	CoroutinesSpawned  uint64
	CoroutinesFinished uint64
	CoroutinesLive     uint64

	AvgReadyQueueDepth float64
	MaxReadyQueueDepth uint32

	WaitersBlocked uint64
	WaitersResumed uint64
	WaitersAborted uint64
	NodesReclaimed uint64

	AvgExecuteIOLatencyNs uint64
	LatencyP50Ns          uint64
	LatencyP99Ns          uint64
	LatencyHistogram      [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		CoroutinesSpawned:  m.CoroutinesSpawned.Load(),
		CoroutinesFinished: m.CoroutinesFinished.Load(),
		WaitersBlocked:     m.WaitersBlocked.Load(),
		WaitersResumed:     m.WaitersResumed.Load(),
		WaitersAborted:     m.WaitersAborted.Load(),
		NodesReclaimed:     m.NodesReclaimed.Load(),
		MaxReadyQueueDepth: m.MaxReadyQueueDepth.Load(),
	}
	if snap.CoroutinesSpawned > snap.CoroutinesFinished {
		snap.CoroutinesLive = snap.CoroutinesSpawned - snap.CoroutinesFinished
	}

	if samples := m.ReadyQueueSamples.Load(); samples > 0 {
		snap.AvgReadyQueueDepth = float64(m.ReadyQueueDepthTotal.Load()) / float64(samples)
	}

	count := m.ExecuteIOCount.Load()
	if count > 0 {
		snap.AvgExecuteIOLatencyNs = m.TotalExecuteIOLatencyNs.Load() / count
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0) by
// linear interpolation between histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.ExecuteIOCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)
	prevBucket := uint64(0)
	prevCount := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// MetricsObserver adapts Metrics to interfaces.Observer, so internal
// packages depend only on the interface and the root package supplies the
// concrete implementation.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records onto m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveReadyQueueDepth(depth int) { o.metrics.recordReadyQueueDepth(depth) }
func (o *MetricsObserver) ObserveCoroutineSpawned()         { o.metrics.CoroutinesSpawned.Add(1) }
func (o *MetricsObserver) ObserveCoroutineFinished()        { o.metrics.CoroutinesFinished.Add(1) }
func (o *MetricsObserver) ObserveNodeReclaimed()             { o.metrics.NodesReclaimed.Add(1) }

func (o *MetricsObserver) ObserveWaiterBlocked(class string) {
	_ = class
	o.metrics.WaitersBlocked.Add(1)
}

func (o *MetricsObserver) ObserveWaiterResumed(class string, aborted bool) {
	_ = class
	o.metrics.WaitersResumed.Add(1)
	if aborted {
		o.metrics.WaitersAborted.Add(1)
	}
}

func (o *MetricsObserver) ObserveExecuteIOLatency(latencyNs uint64) {
	o.metrics.recordExecuteIOLatency(latencyNs)
}

// NoOpObserver discards every event; Service uses it when no Observer is
// configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveReadyQueueDepth(int)          {}
func (NoOpObserver) ObserveCoroutineSpawned()            {}
func (NoOpObserver) ObserveCoroutineFinished()           {}
func (NoOpObserver) ObserveWaiterBlocked(string)         {}
func (NoOpObserver) ObserveWaiterResumed(string, bool)   {}
func (NoOpObserver) ObserveNodeReclaimed()               {}
func (NoOpObserver) ObserveExecuteIOLatency(uint64)      {}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
