package syncx

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/corosrv/service"
)

func TestSharedMutexAllowsConcurrentReaders(t *testing.T) {
	svc, wg := newTestService(t)
	m := NewSharedMutex(svc)

	const n = 10
	var concurrent atomic.Int32
	var maxObserved atomic.Int32
	var started sync.WaitGroup
	started.Add(n)
	finished := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			m.SharedLock(c)
			started.Done()
			cur := concurrent.Add(1)
			for {
				prev := maxObserved.Load()
				if cur <= prev || maxObserved.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			concurrent.Add(-1)
			m.Unlock()
			finished <- struct{}{}
		}))
	}

	for i := 0; i < n; i++ {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("shared readers never all finished")
		}
	}

	assert.Greater(t, maxObserved.Load(), int32(1))

	svc.Stop()
	wg.Wait()
}

func TestSharedMutexWriterExcludesReaders(t *testing.T) {
	svc, wg := newTestService(t)
	m := NewSharedMutex(svc)

	require.True(t, m.TryLock())

	var readerRan atomic.Bool
	done := make(chan struct{})
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		m.SharedLock(c)
		readerRan.Store(true)
		m.Unlock()
		close(done)
	}))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, readerRan.Load())

	m.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never acquired the lock after the writer released it")
	}
	assert.True(t, readerRan.Load())

	svc.Stop()
	wg.Wait()
}

func TestSharedMutexWriterPreferenceBlocksNewReaders(t *testing.T) {
	svc, wg := newTestService(t)
	m := NewSharedMutex(svc)

	require.True(t, m.TrySharedLock()) // one reader already holds the lock

	var writerRunning atomic.Bool
	writerDone := make(chan struct{})
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		m.Lock(c) // queues as a waiting writer
		writerRunning.Store(true)
		m.Unlock()
		close(writerDone)
	}))
	time.Sleep(20 * time.Millisecond)
	require.False(t, writerRunning.Load())

	// A reader arriving after the writer is already queued must not
	// jump ahead of it.
	var lateReaderAcquired atomic.Bool
	readerDone := make(chan struct{})
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		m.SharedLock(c)
		lateReaderAcquired.Store(true)
		m.Unlock()
		close(readerDone)
	}))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, lateReaderAcquired.Load())

	m.Unlock() // release the original shared holder; writer should go next

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired the lock")
	}
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("late reader never acquired the lock")
	}

	svc.Stop()
	wg.Wait()
}
