//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor is the Linux Reactor backed by one epoll instance plus an
// eventfd used exclusively for Wakeup. Grounded on the teacher pack's
// eventloop poller (golang.org/x/sys/unix EpollCreate1/Ctl/Wait) and its
// eventfd-based wakeup, adapted here to a single combined-interest-mask
// epoll per this package's redesign rather than per-class sub-pollers.
type epollReactor struct {
	epfd     int
	wakeFD   int
	mu       sync.Mutex
	closed   bool
	eventBuf []unix.EpollEvent
}

// New constructs a Linux epoll-backed Reactor sized to hold up to
// maxEvents per Wait call.
func New(maxEvents int) (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r := &epollReactor{
		epfd:     epfd,
		wakeFD:   wakeFD,
		eventBuf: make([]unix.EpollEvent, maxEvents),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, err
	}
	return r, nil
}

func (r *epollReactor) Register(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: 0,
		Fd:     int32(fd),
	})
}

func (r *epollReactor) Unregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *epollReactor) SetInterest(fd int, interest Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	})
}

func (r *epollReactor) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(r.epfd, r.eventBuf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := r.eventBuf[i]
		fd := int(raw.Fd)
		if fd == r.wakeFD {
			drainEventfd(r.wakeFD)
			events = append(events, Event{Wakeup: true})
			continue
		}
		ev := Event{FD: fd}
		if raw.Events&unix.EPOLLIN != 0 {
			ev.Read = true
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev.Write = true
		}
		if raw.Events&unix.EPOLLPRI != 0 {
			ev.Priority = true
		}
		if raw.Events&unix.EPOLLHUP != 0 || raw.Events&unix.EPOLLRDHUP != 0 {
			ev.Hangup = true
		}
		if raw.Events&unix.EPOLLERR != 0 {
			ev.Err = unix.EIO
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *epollReactor) Wakeup() error {
	r.mu.Lock()
	closed := r.closed
	fd := r.wakeFD
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	return err
}

func (r *epollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	errEp := unix.Close(r.epfd)
	errWake := unix.Close(r.wakeFD)
	if errEp != nil {
		return errEp
	}
	return errWake
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func interestToEpoll(interest Interest) uint32 {
	var mask uint32 = unix.EPOLLET
	if interest&InterestRead != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	if interest&InterestPriority != 0 {
		mask |= unix.EPOLLPRI
	}
	return mask
}
