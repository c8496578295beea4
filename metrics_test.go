package corosrv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsInitialSnapshotIsZero(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Zero(t, snap.CoroutinesLive)
	assert.Zero(t, snap.AvgExecuteIOLatencyNs)
}

func TestObserverTracksCoroutineLifecycle(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveCoroutineSpawned()
	o.ObserveCoroutineSpawned()
	o.ObserveCoroutineFinished()

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.CoroutinesSpawned)
	assert.EqualValues(t, 1, snap.CoroutinesFinished)
	assert.EqualValues(t, 1, snap.CoroutinesLive)
}

func TestObserverTracksReadyQueueDepth(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveReadyQueueDepth(10)
	o.ObserveReadyQueueDepth(20)
	o.ObserveReadyQueueDepth(15)

	snap := m.Snapshot()
	assert.EqualValues(t, 20, snap.MaxReadyQueueDepth)
	assert.InDelta(t, 15.0, snap.AvgReadyQueueDepth, 0.1)
}

func TestObserverTracksWaiters(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveWaiterBlocked("mutex")
	o.ObserveWaiterResumed("mutex", false)
	o.ObserveWaiterBlocked("semaphore")
	o.ObserveWaiterResumed("semaphore", true)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.WaitersBlocked)
	assert.EqualValues(t, 2, snap.WaitersResumed)
	assert.EqualValues(t, 1, snap.WaitersAborted)
}

func TestExecuteIOLatencyHistogram(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	for i := 0; i < 50; i++ {
		o.ObserveExecuteIOLatency(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		o.ObserveExecuteIOLatency(5_000_000) // 5ms
	}
	o.ObserveExecuteIOLatency(50_000_000) // 50ms, the single slowest sample

	snap := m.Snapshot()
	assert.EqualValues(t, 100, m.ExecuteIOCount.Load())
	assert.InDelta(t, 100_000, snap.LatencyP50Ns, 900_000)
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))

	var totalInBuckets uint64
	for _, c := range snap.LatencyHistogram {
		totalInBuckets += c
	}
	assert.NotZero(t, totalInBuckets)
}

func TestMetricsUptimeFreezesAfterStop(t *testing.T) {
	m := NewMetrics()
	time.Sleep(5 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(5*time.Millisecond))

	m.Stop()
	frozen := m.Snapshot().UptimeNs
	time.Sleep(5 * time.Millisecond)
	assert.InDelta(t, float64(frozen), float64(m.Snapshot().UptimeNs), float64(2*time.Millisecond))
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	o.ObserveReadyQueueDepth(1)
	o.ObserveCoroutineSpawned()
	o.ObserveCoroutineFinished()
	o.ObserveWaiterBlocked("x")
	o.ObserveWaiterResumed("x", true)
	o.ObserveNodeReclaimed()
	o.ObserveExecuteIOLatency(1)
}
