// Package wire is the daemon's client-facing listener. The protocol is a
// deliberately small line-oriented handshake -- the full conman client
// grammar is out of scope -- that exists to drive the object graph from a
// real socket:
//
//	LIST                      -> "CONSOLE <name>" per console, then "OK"
//	CONNECT <console> [user]  -> raw byte stream, or one "ERR: <reason>" line
//
// After a successful CONNECT the connection's fd belongs to the I/O
// engine; this package never touches it again. The first bytes a client
// sees are the attach banner, followed by console output.
package wire

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/object"
)

// Attacher is the engine-side contract: take ownership of fd and link the
// named client to the named console.
type Attacher interface {
	AttachClient(user, host string, fd int, console string) error
}

// Options configure the listener.
type Options struct {
	Port      int
	LoopBack  bool // bind 127.0.0.1 instead of all interfaces
	KeepAlive bool
}

// Server accepts client connections and hands them to the engine.
type Server struct {
	eng  Attacher
	reg  *object.Registry
	opts Options

	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup
}

func NewServer(eng Attacher, reg *object.Registry, opts Options) *Server {
	return &Server{
		eng:  eng,
		reg:  reg,
		opts: opts,
		done: make(chan struct{}),
	}
}

// Start binds the listen socket and begins accepting. Returns the bound
// address so a port of 0 can be used in tests.
func (s *Server) Start() (net.Addr, error) {
	host := ""
	if s.opts.LoopBack {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, s.opts.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", s.opts.Port, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("listening for clients", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Stop closes the listener and waits for in-flight handshakes.
func (s *Server) Stop() {
	close(s.done)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Warn("accept failed", "error", err)
				continue
			}
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(s.opts.KeepAlive)
			tc.SetNoDelay(true)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

const handshakeTimeout = 30 * time.Second

func (s *Server) handle(conn net.Conn) {
	// One handshake line; everything after a successful CONNECT is raw
	// console traffic owned by the engine, so the reader must not buffer
	// beyond the first newline.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := readLine(conn)
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	fields := strings.Fields(line)
	if len(fields) == 0 {
		fmt.Fprintf(conn, "ERR: empty request\n")
		conn.Close()
		return
	}

	switch strings.ToUpper(fields[0]) {
	case "LIST":
		for _, name := range s.reg.Consoles() {
			fmt.Fprintf(conn, "CONSOLE %s\n", name)
		}
		fmt.Fprintf(conn, "OK\n")
		conn.Close()

	case "CONNECT":
		if len(fields) < 2 {
			fmt.Fprintf(conn, "ERR: CONNECT requires a console name\n")
			conn.Close()
			return
		}
		s.connect(conn, fields[1], userField(fields))

	default:
		fmt.Fprintf(conn, "ERR: unknown request %q\n", fields[0])
		conn.Close()
	}
}

func userField(fields []string) string {
	if len(fields) >= 3 {
		return fields[2]
	}
	return "anon"
}

func (s *Server) connect(conn net.Conn, console, user string) {
	host := "unknown"
	if h, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		host = h
	}

	fd, err := dupConnFd(conn)
	if err != nil {
		fmt.Fprintf(conn, "ERR: %v\n", err)
		conn.Close()
		return
	}

	if err := s.eng.AttachClient(user, host, fd, console); err != nil {
		slog.Info("attach refused", "client", user+"@"+host, "console", console, "error", err)
		fmt.Fprintf(conn, "ERR: %v\n", err)
		conn.Close()
		return
	}

	// The engine owns the dup'd fd now; drop our handle without closing
	// the underlying socket twice.
	conn.Close()
}

// dupConnFd extracts a standalone non-blocking fd from the connection.
// The duplicate survives conn.Close.
func dupConnFd(conn net.Conn) (int, error) {
	sc, ok := conn.(interface {
		File() (f *os.File, err error)
	})
	if !ok {
		return -1, fmt.Errorf("%w: connection type %T has no fd", object.ErrIO, conn)
	}
	f, err := sc.File()
	if err != nil {
		return -1, fmt.Errorf("%w: %v", object.ErrIO, err)
	}
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return -1, fmt.Errorf("%w: dup: %v", object.ErrIO, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: %v", object.ErrIO, err)
	}
	return fd, nil
}

// readLine reads bytes one at a time up to the first newline so no
// post-handshake client bytes are stranded in a userspace buffer.
func readLine(conn net.Conn) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		sb.WriteByte(buf[0])
		if sb.Len() > 1024 {
			return "", fmt.Errorf("handshake line too long")
		}
	}
}
