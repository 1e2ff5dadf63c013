package ioengine

import "time"

// Interest is the readiness set the engine wants for one fd.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one ready fd as reported by the poller. Hangup covers both
// peer-close and error conditions; the engine resolves it through the
// normal read/drain paths.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool
}

// poller is the level-triggered readiness wait under the engine's tick.
// The Linux build wraps epoll; other platforms fall back to poll(2).
type poller interface {
	// Set registers or updates the interest for fd. want == 0 removes it.
	// A stale fd (already closed elsewhere) is forgotten silently.
	Set(fd int, want Interest) error
	// Wait blocks until at least one fd is ready or the timeout elapses.
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}
