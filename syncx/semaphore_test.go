package syncx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/corosrv/service"
)

func TestSemaphorePopBlocksUntilPush(t *testing.T) {
	svc, wg := newTestService(t)
	s := NewSemaphore(svc, 0)

	done := make(chan struct{})
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		s.Pop(c)
		close(done)
	}))

	select {
	case <-done:
		t.Fatal("Pop returned before Push")
	case <-time.After(30 * time.Millisecond):
	}

	s.Push()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pop never returned after Push")
	}

	svc.Stop()
	wg.Wait()
}

func TestSemaphoreCounterNeverGoesNegative(t *testing.T) {
	svc, wg := newTestService(t)
	s := NewSemaphore(svc, 3)

	const n = 10
	var popped atomic.Int32
	finished := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			s.Pop(c)
			popped.Add(1)
			finished <- struct{}{}
		}))
	}

	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 3, popped.Load())

	for i := 0; i < n-3; i++ {
		s.Push()
	}

	for i := 0; i < n; i++ {
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("not every waiter was eventually woken")
		}
	}
	assert.EqualValues(t, n, popped.Load())

	svc.Stop()
	wg.Wait()
}
