package object

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

type fakeOpener struct {
	fd  int
	err error
}

func (f fakeOpener) Open(dev string, baud int) (int, error) {
	if f.err != nil {
		return -1, f.err
	}
	return f.fd, nil
}

func TestNewConsoleValidation(t *testing.T) {
	if _, err := NewConsole("", "/dev/ttyS0", 9600, "", fakeOpener{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("empty name: got %v, want ErrConfig", err)
	}
	if _, err := NewConsole("c1", "", 9600, "", fakeOpener{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("empty dev: got %v, want ErrConfig", err)
	}

	c, err := NewConsole("c1", "/dev/ttyS0", 9600, "/sbin/reset-c1", fakeOpener{})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if c.Active() {
		t.Fatal("console born active")
	}
	if c.ConsoleAux.ResetProgram != "/sbin/reset-c1" {
		t.Fatalf("reset program = %q", c.ConsoleAux.ResetProgram)
	}
}

func TestNewClientBornActive(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	c, err := NewClient("alice", "mgmt1", fds[0])
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Name != "alice@mgmt1" {
		t.Fatalf("client name = %q, want alice@mgmt1", c.Name)
	}
	if !c.Active() {
		t.Fatal("client not born active")
	}
	if c.ClientAux.TimeLastRead.IsZero() {
		t.Fatal("TimeLastRead unset")
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open on client (no-op): %v", err)
	}
}

func TestConsoleOpenDelegatesToOpener(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	c, err := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{fd: fds[0]})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Fd != fds[0] {
		t.Fatalf("Fd = %d, want %d", c.Fd, fds[0])
	}
	// Idempotent: a second Open must not call the opener again.
	c.ConsoleAux.opener = fakeOpener{err: errors.New("boom")}
	if err := c.Open(); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	bad, err := NewConsole("c2", "/dev/bogus", 9600, "", fakeOpener{err: errors.New("no such device")})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if err := bad.Open(); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Open failure: got %v, want ErrOpenFailed", err)
	}
}

func TestLogFileOpenWritesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.log")

	console, err := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	lf, err := NewLogFile(path, false)
	if err != nil {
		t.Fatalf("NewLogFile: %v", err)
	}

	// A logfile without a console writer must refuse to open.
	if err := lf.Open(); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Open without writer: got %v, want ErrOpenFailed", err)
	}

	lf.Writer = console
	if err := lf.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer lf.CloseFd()

	header := string(lf.Buf.Bytes())
	if !strings.HasPrefix(header, "* Console [c1] log started on ") {
		t.Fatalf("header prefix wrong: %q", header)
	}
	if !strings.HasSuffix(header, ".\n\n") {
		t.Fatalf("header suffix wrong: %q", header)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestLogFileZeroTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.log")
	if err := os.WriteFile(path, []byte("stale contents\n"), 0o600); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	console, err := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	lf, err := NewLogFile(path, true)
	if err != nil {
		t.Fatalf("NewLogFile: %v", err)
	}
	lf.Writer = console
	if err := lf.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer lf.CloseFd()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("zeroed log still holds %d bytes", fi.Size())
	}
}

func TestCloseFdIdempotent(t *testing.T) {
	c, err := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if err := c.CloseFd(); err != nil {
		t.Fatalf("CloseFd on inactive object: %v", err)
	}
}

func TestCompare(t *testing.T) {
	a, _ := NewConsole("alpha", "/dev/ttyS0", 9600, "", fakeOpener{})
	b, _ := NewConsole("beta", "/dev/ttyS1", 9600, "", fakeOpener{})
	if Compare(a, b) >= 0 {
		t.Fatal("alpha should sort before beta")
	}
	if Compare(b, a) <= 0 {
		t.Fatal("beta should sort after alpha")
	}
	if Compare(a, a) != 0 {
		t.Fatal("object should compare equal to itself")
	}
}
