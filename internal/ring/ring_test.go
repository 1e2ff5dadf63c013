package ring

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPushDrainRoundTrip(t *testing.T) {
	b := New("test", 4096)

	payload := []byte("hello, console\n")
	n, err := b.Push(payload)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Push wrote %d bytes, want %d", n, len(payload))
	}

	r, w, err := pipe(t)
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	for !b.Empty() {
		if _, err := b.Drain(w); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}

	got := make([]byte, len(payload))
	if _, err := unix.Read(r, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

// Pushing more than Cap bytes without draining must leave exactly the
// trailing Cap bytes of the input, with the overwrite reflected in the
// ring's bookkeeping.
func TestPushOverwritesOldest(t *testing.T) {
	b := New("test", 16)

	input := []byte("0123456789abcdef0123456789abcdef01234567")
	if _, err := b.Push(input); err != nil {
		t.Fatalf("Push: %v", err)
	}

	want := input[len(input)-15:]
	if got := b.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("ring contents after overwrite: got %q, want %q", got, want)
	}
	if b.Len() != b.Cap() {
		t.Fatalf("Len() = %d after overwrite, want Cap() = %d", b.Len(), b.Cap())
	}
}

func TestPushOverwriteInStages(t *testing.T) {
	b := New("test", 8)

	// Fill to capacity, then push more to force an overwrite of the
	// oldest unread bytes.
	if _, err := b.Push([]byte("abcdefg")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := b.Push([]byte("XYZ")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Ten bytes were pushed through a seven-byte ring; the last seven
	// survive.
	want := []byte("defgXYZ")
	if got := b.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("ring contents: got %q, want %q", got, want)
	}
}

func TestPushAfterEOF(t *testing.T) {
	b := New("test", 64)
	b.SetEOF()

	if _, err := b.Push([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push after EOF: got %v, want ErrClosed", err)
	}
	if !b.Empty() {
		t.Fatal("buffer admitted data after EOF")
	}
}

func TestPushEmpty(t *testing.T) {
	b := New("test", 64)
	n, err := b.Push(nil)
	if n != 0 || err != nil {
		t.Fatalf("Push(nil) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestDrainWouldBlock(t *testing.T) {
	r, w, err := pipe(t)
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	_ = r

	b := New("test", 4096)
	payload := bytes.Repeat([]byte("x"), b.Cap())
	if _, err := b.Push(payload); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Fill the pipe until the kernel buffer is exhausted; the next Drain
	// must report ErrWouldBlock and leave the ring contents intact.
	sawBlock := false
	for i := 0; i < 4096; i++ {
		before := b.Len()
		if _, err := b.Drain(w); err != nil {
			if !errors.Is(err, ErrWouldBlock) {
				t.Fatalf("Drain: %v", err)
			}
			if b.Len() != before {
				t.Fatalf("ErrWouldBlock mutated the ring: %d -> %d", before, b.Len())
			}
			sawBlock = true
			break
		}
		if b.Empty() {
			if _, err := b.Push(payload); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}
	}
	if !sawBlock {
		t.Fatal("never observed ErrWouldBlock on a full pipe")
	}
}

func TestDrainEPIPELatchesEOF(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	w := fds[1]
	t.Cleanup(func() { unix.Close(w) })
	unix.Close(fds[0])

	b := New("test", 64)
	if _, err := b.Push([]byte("doomed")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	n, err := b.Drain(w)
	if err != nil {
		t.Fatalf("Drain on broken pipe: %v", err)
	}
	if n != 0 {
		t.Fatalf("Drain on broken pipe wrote %d bytes", n)
	}
	if !b.GotEOF() {
		t.Fatal("EPIPE did not latch EOF")
	}
	if !b.Empty() {
		t.Fatal("EPIPE did not flush the ring")
	}
}

func TestDrainWrapsAcrossCalls(t *testing.T) {
	b := New("test", 8)

	// Advance in/out past the middle so the next push wraps around the
	// end of the backing array.
	if _, err := b.Push([]byte("12345")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	r, w, err := pipe(t)
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	for !b.Empty() {
		if _, err := b.Drain(w); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}
	drainPipe(t, r, 5)

	if _, err := b.Push([]byte("abcdefg")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// First Drain writes only the contiguous tail; the wrapped head goes
	// out on the second call.
	n1, err := b.Drain(w)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	n2, err := b.Drain(w)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n1+n2 != 7 {
		t.Fatalf("two drains wrote %d+%d bytes, want 7 total", n1, n2)
	}

	got := make([]byte, 7)
	if _, err := unix.Read(r, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, []byte("abcdefg")) {
		t.Fatalf("wrapped drain produced %q, want %q", got, "abcdefg")
	}
}

func pipe(t *testing.T) (r, w int, err error) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1], nil
}

func drainPipe(t *testing.T, r int, n int) {
	t.Helper()
	buf := make([]byte, n)
	if _, err := unix.Read(r, buf); err != nil {
		t.Fatalf("drain pipe: %v", err)
	}
}
