// Package opener attaches console transports. Each Opener turns a device
// specification into an open, non-blocking file descriptor; the object
// graph and I/O engine above it see only fds. The device string selects
// the transport:
//
//	/dev/ttyS0        local serial device
//	ts1:7002          terminal-server socket (TCP dial)
//	|/usr/bin/helper  spawned helper process behind a pty
//	ipmi:host         IPMI Serial-Over-LAN (not implemented)
package opener

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/object"
)

// DialTimeout bounds a terminal-server connect so a dead terminal server
// cannot wedge an open worker indefinitely.
const DialTimeout = 10 * time.Second

// ForDevice selects the Opener matching a device specification.
func ForDevice(dev string) object.Opener {
	switch {
	case strings.HasPrefix(dev, "|"):
		return ExecOpener{}
	case strings.HasPrefix(dev, "ipmi:"):
		return IPMIOpener{}
	case strings.HasPrefix(dev, "/"):
		return TTYOpener{}
	case strings.Contains(dev, ":"):
		return DialOpener{}
	default:
		return TTYOpener{}
	}
}

// DialOpener connects to a terminal server's TCP port. The device is a
// "host:port" pair; baud is ignored (the terminal server owns the serial
// side).
type DialOpener struct{}

func (DialOpener) Open(dev string, baud int) (int, error) {
	conn, err := net.DialTimeout("tcp", dev, DialTimeout)
	if err != nil {
		return -1, fmt.Errorf("dial %q: %w", dev, err)
	}
	tc := conn.(*net.TCPConn)
	tc.SetNoDelay(true)

	f, err := tc.File()
	conn.Close()
	if err != nil {
		return -1, fmt.Errorf("dial %q: %w", dev, err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return -1, fmt.Errorf("dial %q: dup: %w", dev, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dial %q: %w", dev, err)
	}
	return fd, nil
}

// ExecOpener spawns a helper process behind a pseudo-terminal. The device
// is a "|"-prefixed command line, split on whitespace. The helper sees a
// real terminal on its stdio; the daemon holds the master side.
type ExecOpener struct{}

func (ExecOpener) Open(dev string, baud int) (int, error) {
	argv := strings.Fields(strings.TrimPrefix(dev, "|"))
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty helper command %q", dev)
	}

	cmd := buildHelperCommand(argv)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("spawn %q: %w", argv[0], err)
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80}); err != nil {
		ptmx.Close()
		cmd.Process.Kill()
		return -1, fmt.Errorf("spawn %q: setsize: %w", argv[0], err)
	}

	// The helper is reparented to its own fate; the object graph's close
	// semantics govern the master fd, and the child exits on EOF/SIGHUP
	// from the pty.
	go cmd.Wait()

	fd, err := unix.Dup(int(ptmx.Fd()))
	ptmx.Close()
	if err != nil {
		return -1, fmt.Errorf("spawn %q: dup: %w", argv[0], err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("spawn %q: %w", argv[0], err)
	}
	return fd, nil
}

func buildHelperCommand(argv []string) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(cmd.Environ(), "TERM=vt100")
	return cmd
}

// IPMIOpener is the Serial-Over-LAN slot. The directive and variant exist
// so configuration routes cleanly; the transport itself is not
// implemented.
type IPMIOpener struct{}

func (IPMIOpener) Open(dev string, baud int) (int, error) {
	return -1, fmt.Errorf("ipmi sol transport not yet implemented (%q)", dev)
}
