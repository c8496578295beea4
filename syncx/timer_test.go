package syncx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/corosrv/internal/errs"
	"github.com/ehrlich-b/corosrv/service"
)

func TestTimerWaitReturnsOnExpiry(t *testing.T) {
	svc, wg := newTestService(t)
	tm := NewTimer(svc)
	require.NoError(t, tm.ExpiresAfter(30*time.Millisecond))

	done := make(chan error, 1)
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		done <- tm.Wait(c)
	}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}

	tm.Close()
	svc.Stop()
	wg.Wait()
}

func TestTimerCancelAbortsAllWaiters(t *testing.T) {
	svc, wg := newTestService(t)
	tm := NewTimer(svc)
	require.NoError(t, tm.ExpiresAfter(time.Hour))

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			results <- tm.Wait(c)
		}))
	}
	time.Sleep(20 * time.Millisecond)

	assert.True(t, tm.Cancel())
	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			assert.True(t, errs.Is(err, errs.OperationAborted))
		case <-time.After(2 * time.Second):
			t.Fatal("cancel never woke every waiter")
		}
	}

	tm.Close()
	svc.Stop()
	wg.Wait()
}

func TestTimerExpiresAfterFailsWhilePending(t *testing.T) {
	svc, wg := newTestService(t)
	tm := NewTimer(svc)
	require.NoError(t, tm.ExpiresAfter(time.Hour))

	err := tm.ExpiresAfter(time.Millisecond)
	assert.True(t, errs.Is(err, errs.TimerNotExpired))

	tm.Close()
	svc.Stop()
	wg.Wait()
}

func TestTimerRearmsAfterCancelThenExpires(t *testing.T) {
	svc, wg := newTestService(t)
	tm := NewTimer(svc)
	require.NoError(t, tm.ExpiresAfter(time.Hour))
	require.True(t, tm.Cancel())

	require.NoError(t, tm.ExpiresAfter(20*time.Millisecond))
	done := make(chan error, 1)
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		done <- tm.Wait(c)
	}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired after being re-armed")
	}

	tm.Close()
	svc.Stop()
	wg.Wait()
}

func TestTimerFanoutWakesEveryWaiterOnExpiry(t *testing.T) {
	svc, wg := newTestService(t)
	tm := NewTimer(svc)
	require.NoError(t, tm.ExpiresAfter(40*time.Millisecond))

	const n = 10
	var woke atomic.Int32
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			err := tm.Wait(c)
			woke.Add(1)
			results <- err
		}))
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("not every waiter woke on expiry")
		}
	}
	assert.EqualValues(t, n, woke.Load())

	tm.Close()
	svc.Stop()
	wg.Wait()
}
