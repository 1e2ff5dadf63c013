//go:build linux

package ioengine

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness backend. One persistent epoll
// instance; the engine adjusts per-fd interest between ticks as rings
// fill and drain.
type epollPoller struct {
	epfd       int
	registered map[int]Interest
	events     [128]unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{
		epfd:       epfd,
		registered: make(map[int]Interest),
	}, nil
}

func epollEvents(want Interest) uint32 {
	var ev uint32
	if want&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if want&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Set(fd int, want Interest) error {
	have, known := p.registered[fd]

	if want == 0 {
		if !known {
			return nil
		}
		delete(p.registered, fd)
		// A closed fd was already dropped by the kernel; EBADF and
		// ENOENT just mean there is nothing left to remove.
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
			err != unix.EBADF && err != unix.ENOENT {
			return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
		}
		return nil
	}

	ev := unix.EpollEvent{Events: epollEvents(want), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if known {
		if have == want {
			return nil
		}
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		// The fd number may have been closed and reused since the last
		// tick; resynchronize by re-adding.
		if err == unix.ENOENT {
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		} else if err == unix.EEXIST {
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
		if err != nil {
			delete(p.registered, fd)
			if err == unix.EBADF {
				return nil
			}
			return fmt.Errorf("epoll ctl fd=%d: %w", fd, err)
		}
	}
	p.registered[fd] = want
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		out = append(out, Event{
			Fd:       int(ev.Fd),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
