//go:build !linux

package ioengine

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback: the interest set is rebuilt into a
// pollfd array on every wait.
type pollPoller struct {
	registered map[int]Interest
}

func newPoller() (poller, error) {
	return &pollPoller{registered: make(map[int]Interest)}, nil
}

func (p *pollPoller) Set(fd int, want Interest) error {
	if want == 0 {
		delete(p.registered, fd)
		return nil
	}
	p.registered[fd] = want
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Event, error) {
	fds := make([]unix.PollFd, 0, len(p.registered))
	for fd, want := range p.registered {
		var ev int16
		if want&Readable != 0 {
			ev |= unix.POLLIN
		}
		if want&Writable != 0 {
			ev |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if pfd.Revents&unix.POLLNVAL != 0 {
			// Stale fd; drop it from the interest set.
			delete(p.registered, int(pfd.Fd))
			continue
		}
		out = append(out, Event{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&unix.POLLIN != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Hangup:   pfd.Revents&(unix.POLLERR|unix.POLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Close() error {
	return nil
}
