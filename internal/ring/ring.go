// Package ring implements the bounded circular byte buffer shared by every
// object in the console graph. A Buffer never blocks: a producer that
// outruns its consumer overwrites the oldest unread bytes rather than
// stalling, and a Drain performs at most one write(2) per call so the
// engine's tick loop never stalls behind a slow fd either.
package ring

import (
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Push once the buffer has latched EOF.
var ErrClosed = errors.New("ring: buffer closed")

// ErrWouldBlock is returned by Drain when the fd isn't ready for writing.
var ErrWouldBlock = errors.New("ring: write would block")

// Buffer is a fixed-capacity circular byte buffer with one reserved slot
// (capacity Cap holds at most Cap-1 bytes) so that in == out is
// unambiguously "empty".
type Buffer struct {
	name string // used only for diagnostic log lines

	mu  sync.Mutex // guards buf, in, out, gotEOF
	buf []byte
	in  int // next write position
	out int // next read position

	gotEOF bool
}

// New creates a buffer with the given capacity in bytes. name is used only
// to label diagnostic log messages (e.g. the overwrite event) and need not
// be unique.
func New(name string, capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{
		name: name,
		buf:  make([]byte, capacity),
	}
}

// Cap returns the usable capacity: the maximum number of bytes the buffer
// can hold at once.
func (b *Buffer) Cap() int {
	return len(b.buf) - 1
}

// Len returns the number of bytes currently stored.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length()
}

func (b *Buffer) length() int {
	if b.in >= b.out {
		return b.in - b.out
	}
	return len(b.buf) - b.out + b.in
}

// Empty reports whether the buffer currently holds no bytes.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.in == b.out
}

// GotEOF reports whether the buffer has latched end-of-file. Once set, no
// further bytes may be admitted.
func (b *Buffer) GotEOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gotEOF
}

// SetEOF latches end-of-file without touching buffered data. Idempotent.
func (b *Buffer) SetEOF() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gotEOF = true
}

// ClearEOF unlatches end-of-file. Used once a buffer has fully drained and
// is about to close its fd and, for long-lived objects, be reopened later.
func (b *Buffer) ClearEOF() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gotEOF = false
}

// Push copies up to n bytes from src into the buffer, wrapping and
// overwriting the oldest unread bytes if necessary. It never blocks and
// always reports the full n as written unless the buffer has latched EOF,
// in which case it returns ErrClosed and admits nothing.
//
// A payload larger than Cap() keeps only its trailing Cap() bytes, the
// same result a byte-by-byte copy through the ring would leave behind.
func (b *Buffer) Push(src []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gotEOF {
		return 0, ErrClosed
	}
	if len(src) == 0 {
		return 0, nil
	}

	total := len(src)

	// bytes available before the write would overtake unread data.
	avail := b.Cap() - b.length()

	// Only the trailing Cap() bytes of src can ever survive a wrap-around
	// copy, so drop any earlier prefix up front exactly as a byte-by-byte
	// sequential copy would end up doing anyway.
	write := src
	if total > b.Cap() {
		write = src[total-b.Cap():]
	}
	writeLen := len(write)

	// first chunk: up to the end of the backing array.
	first := len(b.buf) - b.in
	if first > writeLen {
		first = writeLen
	}
	copy(b.buf[b.in:], write[:first])
	b.in += first
	if b.in == len(b.buf) {
		b.in = 0
	}

	// second chunk: wrap to the front if anything remains.
	if rest := writeLen - first; rest > 0 {
		copy(b.buf[b.in:], write[first:])
		b.in += rest
	}

	if total > avail {
		overwrote := total - avail
		slog.Debug("ring buffer overwrote unread data", "object", b.name, "bytes", overwrote)
		b.out = b.in + 1
		if b.out >= len(b.buf) {
			b.out -= len(b.buf)
		}
	}

	return total, nil
}

// Drain writes the contiguous unread prefix of the buffer to fd with a
// single write(2) call. On EINTR it retries internally. On EPIPE (or its
// socket sibling ECONNRESET) the peer is gone: EOF is latched and the
// buffer is flushed. On EAGAIN/EWOULDBLOCK it reports ErrWouldBlock
// and leaves the buffer untouched. Any other error is returned unwrapped
// and is fatal to the caller's object.
func (b *Buffer) Drain(fd int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.in == b.out {
		return 0, nil
	}

	var avail int
	if b.in >= b.out {
		avail = b.in - b.out
	} else {
		avail = len(b.buf) - b.out
	}

again:
	n, err := unix.Write(fd, b.buf[b.out:b.out+avail])
	if err != nil {
		if err == unix.EINTR {
			goto again
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			b.gotEOF = true
			b.in, b.out = 0, 0
			return 0, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}

	b.out += n
	if b.out == len(b.buf) {
		b.out = 0
	}
	return n, nil
}

// Bytes returns a copy of the unread contents in chronological order.
// Used only for diagnostics/tests; the engine never needs a full
// materialized copy in normal operation.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.in == b.out {
		return nil
	}
	out := make([]byte, 0, b.length())
	if b.in > b.out {
		out = append(out, b.buf[b.out:b.in]...)
		return out
	}
	out = append(out, b.buf[b.out:]...)
	out = append(out, b.buf[:b.in]...)
	return out
}
