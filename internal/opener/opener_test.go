package opener

import (
	"fmt"
	"net"
	"testing"

	"golang.org/x/sys/unix"
)

func TestForDevice(t *testing.T) {
	cases := []struct {
		dev  string
		want string
	}{
		{"/dev/ttyS0", "TTYOpener"},
		{"/dev/tts/0", "TTYOpener"},
		{"ts1:7002", "DialOpener"},
		{"|/usr/bin/ipmiconsole -h node1", "ExecOpener"},
		{"ipmi:node1-bmc", "IPMIOpener"},
		{"weird", "TTYOpener"},
	}
	for _, tc := range cases {
		got := fmt.Sprintf("%T", ForDevice(tc.dev))
		if got != "opener."+tc.want {
			t.Fatalf("ForDevice(%q) = %s, want %s", tc.dev, got, tc.want)
		}
	}
}

func TestBaudFlag(t *testing.T) {
	if _, err := baudFlag(9600); err != nil {
		t.Fatalf("baudFlag(9600): %v", err)
	}
	if _, err := baudFlag(115200); err != nil {
		t.Fatalf("baudFlag(115200): %v", err)
	}
	if _, err := baudFlag(12345); err == nil {
		t.Fatal("baudFlag(12345) accepted a nonstandard rate")
	}
	if _, err := baudFlag(0); err == nil {
		t.Fatal("baudFlag(0) accepted")
	}
}

func TestTTYOpenerRejectsBadBaud(t *testing.T) {
	if _, err := (TTYOpener{}).Open("/dev/null", 12345); err == nil {
		t.Fatal("bad baud rate accepted")
	}
}

func TestTTYOpenerNonTTY(t *testing.T) {
	// /dev/null is not a tty; the opener passes it through without
	// termios configuration.
	fd, err := (TTYOpener{}).Open("/dev/null", 9600)
	if err != nil {
		t.Fatalf("Open(/dev/null): %v", err)
	}
	unix.Close(fd)
}

func TestDialOpener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	fd, err := (DialOpener{}).Open(l.Addr().String(), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer unix.Close(fd)

	peer := <-accepted
	defer peer.Close()

	if _, err := peer.Write([]byte("serial bytes")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	buf := make([]byte, 64)
	// The fd is non-blocking; poll for readability before reading.
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfd, 2000); err != nil {
		t.Fatalf("poll: %v", err)
	}
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "serial bytes" {
		t.Fatalf("read %q", buf[:n])
	}
}

func TestDialOpenerFailure(t *testing.T) {
	if _, err := (DialOpener{}).Open("127.0.0.1:1", 0); err == nil {
		t.Fatal("dial to a closed port succeeded")
	}
}

func TestExecOpener(t *testing.T) {
	fd, err := (ExecOpener{}).Open("|/bin/echo helper-ready", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer unix.Close(fd)

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfd, 2000); err != nil {
		t.Fatalf("poll: %v", err)
	}
	buf := make([]byte, 64)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n == 0 {
		t.Fatal("no output from helper")
	}
}

func TestExecOpenerEmptyCommand(t *testing.T) {
	if _, err := (ExecOpener{}).Open("|", 0); err == nil {
		t.Fatal("empty helper command accepted")
	}
}

func TestIPMIOpenerUnimplemented(t *testing.T) {
	if _, err := (IPMIOpener{}).Open("ipmi:node1-bmc", 9600); err == nil {
		t.Fatal("ipmi opener should report unimplemented")
	}
}
