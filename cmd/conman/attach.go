package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

const dialTimeout = 10 * time.Second

// listConsoles asks the daemon for its console names.
func listConsoles(addr string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(dialTimeout))

	if _, err := conn.Write([]byte("LIST\n")); err != nil {
		return nil, err
	}

	var names []string
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "OK":
			return names, nil
		case strings.HasPrefix(line, "CONSOLE "):
			names = append(names, strings.TrimPrefix(line, "CONSOLE "))
		case strings.HasPrefix(line, "ERR: "):
			return nil, fmt.Errorf("%s", strings.TrimPrefix(line, "ERR: "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("connection closed before OK")
}

// attach connects to a console and relays the raw session: local
// keystrokes to the daemon, console output to stdout. Typing
// "<escape>." ends the session.
func attach(addr, console, escape string) int {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	defer conn.Close()

	user := os.Getenv("USER")
	if user == "" {
		user = "anon"
	}
	if _, err := fmt.Fprintf(conn, "CONNECT %s %s\n", console, user); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}

	esc := byte('&')
	if escape != "" {
		esc = escape[0]
	}
	fmt.Fprintf(os.Stderr, "* Attaching to console [%s]; type %c. to detach.\r\n", console, esc)

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
			return 1
		}
		defer term.Restore(stdinFd, state)
	}

	// Console output to the local terminal; EOF here means the daemon
	// ended the session (detach, steal, or shutdown).
	done := make(chan struct{})
	go func() {
		io.Copy(os.Stdout, conn)
		close(done)
	}()

	// Keystrokes to the daemon, watching for the local escape so the
	// operator can always leave, even with an unresponsive daemon.
	go func() {
		buf := make([]byte, 256)
		var prev byte
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
				if leaveRequested(prev, buf[:n], esc) {
					conn.Close()
					return
				}
				prev = buf[n-1]
			}
			if err != nil {
				conn.(*net.TCPConn).CloseWrite()
				return
			}
		}
	}()

	<-done
	fmt.Fprintf(os.Stderr, "\r\n* Connection to console [%s] closed.\r\n", console)
	return 0
}

// leaveRequested reports whether the chunk (with the previous byte for
// sequences split across reads) contains "<escape>.".
func leaveRequested(prev byte, chunk []byte, esc byte) bool {
	for _, b := range chunk {
		if prev == esc && b == '.' {
			return true
		}
		prev = b
	}
	return false
}
