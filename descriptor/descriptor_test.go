package descriptor

import (
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/corosrv/internal/errs"
	"github.com/ehrlich-b/corosrv/service"
)

func newTestService(t *testing.T) (*service.Service, *sync.WaitGroup) {
	t.Helper()
	svc, err := service.New(service.DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			_ = svc.Run()
		}()
	}
	return svc, &wg
}

func nonblockingPipe(t *testing.T) (r, w int) {
	t.Helper()
	fds, err := unix.Pipe2(unix.O_NONBLOCK)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func readTask(buf []byte) func(fd int) (int, syscall.Errno) {
	return func(fd int) (int, syscall.Errno) {
		n, err := unix.Read(fd, buf)
		if err == nil {
			return n, 0
		}
		errno, _ := err.(syscall.Errno)
		return n, errno
	}
}

func TestExecuteIOBlocksThenReadsOnceReady(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))

	buf := make([]byte, 16)
	result := make(chan int, 1)
	errCh := make(chan error, 1)

	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		n, err := d.ExecuteIO(c, ClassRead, readTask(buf), 0)
		result <- n
		errCh <- err
	}))

	time.Sleep(20 * time.Millisecond) // let the coroutine reach execute_io and suspend
	_, err := unix.Write(wfd, []byte("hello"))
	require.NoError(t, err)

	select {
	case n := <-result:
		assert.Equal(t, 5, n)
		assert.NoError(t, <-errCh)
		assert.Equal(t, "hello", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteIO never returned")
	}

	assert.NoError(t, d.Close())
	svc.Stop()
	wg.Wait()
}

func TestExecuteIOReturnsImmediatelyWhenDataAlreadyPending(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))

	_, err := unix.Write(wfd, []byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	done := make(chan struct{})
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		n, err := d.ExecuteIO(c, ClassRead, readTask(buf), 0)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteIO never returned")
	}

	assert.NoError(t, d.Close())
	svc.Stop()
	wg.Wait()
}

func TestCancelAbortsMultipleBlockedReaders(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))

	const n = 5
	var started sync.WaitGroup
	started.Add(n)
	var aborted atomic.Int32
	var finished sync.WaitGroup
	finished.Add(n)

	for i := 0; i < n; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			started.Done()
			buf := make([]byte, 8)
			_, err := d.ExecuteIO(c, ClassRead, readTask(buf), 0)
			if errs.Is(err, errs.OperationAborted) {
				aborted.Add(1)
			}
			finished.Done()
		}))
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, d.Cancel())
	finished.Wait()

	assert.EqualValues(t, n, aborted.Load())
	assert.True(t, d.IsOpen())

	assert.NoError(t, d.Close())
	svc.Stop()
	wg.Wait()
}

func TestCloseUnblocksReadersAndReportsNotOpen(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))

	var started sync.WaitGroup
	started.Add(2)
	var aborted atomic.Int32
	var finished sync.WaitGroup
	finished.Add(2)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.AddCoro(func(c *service.Coro) {
			started.Done()
			buf := make([]byte, 8)
			_, err := d.ExecuteIO(c, ClassRead, readTask(buf), 0)
			if errs.Is(err, errs.OperationAborted) {
				aborted.Add(1)
			}
			finished.Done()
		}))
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, d.Close())
	finished.Wait()

	assert.EqualValues(t, 2, aborted.Load())
	assert.False(t, d.IsOpen())

	svc.Stop()
	wg.Wait()
}

func TestExecuteIOTimeoutAbortsWaiter(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))

	done := make(chan error, 1)
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		buf := make([]byte, 8)
		_, err := d.ExecuteIO(c, ClassRead, readTask(buf), 30*time.Millisecond)
		done <- err
	}))

	select {
	case err := <-done:
		assert.True(t, errs.Is(err, errs.OperationAborted))
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteIO never timed out")
	}

	assert.NoError(t, d.Close())
	svc.Stop()
	wg.Wait()
}

func TestExecuteIOOnClosedDescriptorFailsNotOpen(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))
	require.NoError(t, d.Close())

	done := make(chan error, 1)
	require.NoError(t, svc.AddCoro(func(c *service.Coro) {
		buf := make([]byte, 8)
		_, err := d.ExecuteIO(c, ClassRead, readTask(buf), 0)
		done <- err
	}))

	select {
	case err := <-done:
		assert.True(t, errs.Is(err, errs.NotOpen))
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteIO never returned")
	}

	svc.Stop()
	wg.Wait()
}

func TestOpenTwiceFailsAlreadyOpen(t *testing.T) {
	svc, wg := newTestService(t)
	rfd, wfd := nonblockingPipe(t)
	defer unix.Close(wfd)

	d := New(svc)
	require.NoError(t, d.Open(func() (int, error) { return rfd, nil }))
	err := d.Open(func() (int, error) { return rfd, nil })
	assert.True(t, errs.Is(err, errs.AlreadyOpen))

	assert.NoError(t, d.Close())
	svc.Stop()
	wg.Wait()
}
