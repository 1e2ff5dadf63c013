// Package object defines the typed endpoints of the console graph and the
// process-wide registry that owns them. An Object pairs one file
// descriptor with one ring buffer, one optional writer back-pointer, and a
// list of reader forward-pointers. Topology (Writer/Readers) is mutated
// only by the link package; everything else treats those fields as
// read-only.
package object

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/ring"
)

// Kind tags the variant of an Object.
type Kind int

const (
	Console Kind = iota
	LogFile
	ClientSocket
)

func (k Kind) String() string {
	switch k {
	case Console:
		return "console"
	case LogFile:
		return "logfile"
	case ClientSocket:
		return "client"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// BufCap is the backing capacity of every object's ring buffer. The usable
// capacity is one byte less (see ring.Buffer).
const BufCap = 4096

// Opener attaches a console's transport and returns an open, non-blocking
// file descriptor. Implementations live in the opener package; the object
// and link layers see only fds.
type Opener interface {
	Open(dev string, baud int) (int, error)
}

// Object is one endpoint in the daemon's data-flow graph.
type Object struct {
	Name string
	Kind Kind

	// Fd is the endpoint's descriptor, or -1 when the object is inactive.
	Fd int

	// Buf holds bytes destined for Fd. Producers push into it, the I/O
	// engine drains it.
	Buf *ring.Buffer

	// Writer is the object whose output flows into this object's ring.
	// Readers are the objects that receive this object's output. Both are
	// mutated only by the link package.
	Writer  *Object
	Readers []*Object

	ConsoleAux *ConsoleAux
	LogAux     *LogAux
	ClientAux  *ClientAux
}

// ConsoleAux carries Console-variant state.
type ConsoleAux struct {
	Dev          string
	Baud         int
	ResetProgram string

	opener Opener
}

// LogAux carries LogFile-variant state.
type LogAux struct {
	// Zero truncates an existing log file on open (the -z flag).
	Zero bool
}

// ClientAux carries ClientSocket-variant state.
type ClientAux struct {
	User string
	Host string

	// GotIAC is set by the control parser when a telnet IAC byte arrives
	// at the end of a read and its sequence has not yet completed.
	GotIAC bool

	// TimeLastRead is updated on every successful read from the client's
	// socket and drives the idle-timeout policy.
	TimeLastRead time.Time
}

func newObject(name string, kind Kind) *Object {
	return &Object{
		Name: name,
		Kind: kind,
		Fd:   -1,
		Buf:  ring.New(name, BufCap),
	}
}

// NewConsole creates an inactive Console. rst is the optional path of a
// program used to reset the console's hardware; it may be empty. The
// opener performs the variant-specific transport attachment when the
// console is opened.
func NewConsole(name, dev string, baud int, rst string, op Opener) (*Object, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: console name is empty", ErrConfig)
	}
	if dev == "" {
		return nil, fmt.Errorf("%w: console [%s] has no device", ErrConfig, name)
	}
	o := newObject(name, Console)
	o.ConsoleAux = &ConsoleAux{
		Dev:          dev,
		Baud:         baud,
		ResetProgram: rst,
		opener:       op,
	}
	slog.Debug("created object", "kind", o.Kind, "name", o.Name)
	return o, nil
}

// NewLogFile creates an inactive LogFile whose name is the file path to
// append to. zero truncates an existing file when the log is first opened.
func NewLogFile(name string, zero bool) (*Object, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: logfile name is empty", ErrConfig)
	}
	o := newObject(name, LogFile)
	o.LogAux = &LogAux{Zero: zero}
	slog.Debug("created object", "kind", o.Kind, "name", o.Name)
	return o, nil
}

// NewClient creates an active ClientSocket for an already-accepted
// connection. The synthetic name is "user@host".
func NewClient(user, host string, fd int) (*Object, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: client fd %d", ErrIO, fd)
	}
	now := time.Now()
	if now.IsZero() {
		return nil, fmt.Errorf("%w: time() failed -- what time is it?", ErrClock)
	}
	o := newObject(fmt.Sprintf("%s@%s", user, host), ClientSocket)
	o.Fd = fd
	o.ClientAux = &ClientAux{
		User:         user,
		Host:         host,
		TimeLastRead: now,
	}
	slog.Debug("created object", "kind", o.Kind, "name", o.Name)
	return o, nil
}

// Open transitions an inactive object to active. Already-open objects
// return nil. For a LogFile the writer must already be linked: the header
// line names the console being logged.
func (o *Object) Open() error {
	if o.Fd >= 0 {
		return nil
	}

	switch o.Kind {
	case Console:
		fd, err := o.OpenTransport()
		if err != nil {
			return err
		}
		o.Fd = fd

	case LogFile:
		if o.Writer == nil || o.Writer.Kind != Console {
			return fmt.Errorf("%w: logfile %q has no console writer", ErrOpenFailed, o.Name)
		}
		flags := unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND | unix.O_NONBLOCK
		if o.LogAux.Zero {
			flags |= unix.O_TRUNC
		}
		fd, err := unix.Open(o.Name, flags, 0o600)
		if err != nil {
			return fmt.Errorf("%w: logfile %q: %v", ErrOpenFailed, o.Name, err)
		}
		o.Fd = fd
		header := fmt.Sprintf("* Console [%s] log started on %s.\n\n",
			o.Writer.Name, time.Now().Format(time.RFC1123))
		if _, err := o.WriteIn([]byte(header)); err != nil {
			return fmt.Errorf("%w: logfile %q header: %v", ErrOpenFailed, o.Name, err)
		}

	case ClientSocket:
		// Born active; nothing to do.
	}
	return nil
}

// OpenTransport performs a console's variant-specific transport
// attachment and returns the new fd without mutating the object. It may
// block (a terminal-server dial, a helper spawn), so the I/O engine runs
// it on a worker and adopts the fd on its own goroutine.
func (o *Object) OpenTransport() (int, error) {
	if o.Kind != Console {
		return -1, fmt.Errorf("%w: [%s] is not a console", ErrOpenFailed, o.Name)
	}
	fd, err := o.ConsoleAux.opener.Open(o.ConsoleAux.Dev, o.ConsoleAux.Baud)
	if err != nil {
		return -1, fmt.Errorf("%w: console [%s] dev %q: %v", ErrOpenFailed, o.Name, o.ConsoleAux.Dev, err)
	}
	return fd, nil
}

// CloseFd closes the object's descriptor if open. Idempotent.
func (o *Object) CloseFd() error {
	if o.Fd < 0 {
		return nil
	}
	err := unix.Close(o.Fd)
	o.Fd = -1
	if err != nil {
		return fmt.Errorf("%w: close [%s]: %v", ErrIO, o.Name, err)
	}
	return nil
}

// WriteIn admits bytes to the object's ring. Returns ring.ErrClosed once
// the ring has latched EOF.
func (o *Object) WriteIn(src []byte) (int, error) {
	return o.Buf.Push(src)
}

// Active reports whether the object currently holds an open descriptor.
func (o *Object) Active() bool {
	return o.Fd >= 0
}

// TouchRead stamps a client's last-read time. No-op for other kinds.
func (o *Object) TouchRead(now time.Time) {
	if o.ClientAux != nil {
		o.ClientAux.TimeLastRead = now
	}
}

// Compare orders objects lexicographically by name, for stable listings.
func Compare(a, b *Object) int {
	return strings.Compare(a.Name, b.Name)
}
