package syncx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/corosrv/service"
)

func TestMutexTryLockFastPath(t *testing.T) {
	svc, wg := newTestService(t)
	m := NewMutex(svc)

	assert.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())

	svc.Stop()
	wg.Wait()
}

func TestMutexEnforcesMutualExclusion(t *testing.T) {
	svc, wg := newTestService(t)
	m := NewMutex(svc)

	const n = 20
	var inside atomic.Int32
	var maxObserved atomic.Int32
	var counter atomic.Int32

	finished := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			m.Lock(c)
			cur := inside.Add(1)
			for {
				prev := maxObserved.Load()
				if cur <= prev || maxObserved.CompareAndSwap(prev, cur) {
					break
				}
			}
			counter.Add(1)
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			m.Unlock()
			finished <- struct{}{}
		}))
	}

	for i := 0; i < n; i++ {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("mutex-guarded coroutines never all finished")
		}
	}

	assert.EqualValues(t, n, counter.Load())
	assert.EqualValues(t, 1, maxObserved.Load())

	svc.Stop()
	wg.Wait()
}
