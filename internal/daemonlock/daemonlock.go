// Package daemonlock enforces one daemon instance per configuration file.
// The daemon holds an advisory read lock on its config file for its whole
// lifetime; a second instance (or the -k kill path) probes with a
// would-be write lock, which reveals the holder's pid without ever
// blocking.
package daemonlock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held read lock on a configuration file. The fd stays open for
// the daemon's lifetime; releasing it drops the lock.
type Lock struct {
	f *os.File
}

// Acquire opens the config file read-only and takes the instance lock.
// If another process already holds a conflicting lock, the error names
// its pid.
func Acquire(path string) (*Lock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open %q: %w", path, err)
	}

	pid, err := writeLockBlockedBy(int(f.Fd()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to probe lock on %q: %w", path, err)
	}
	if pid > 0 {
		f.Close()
		return nil, fmt.Errorf("configuration %q in use by pid %d", path, pid)
	}

	lk := unix.Flock_t{Type: unix.F_RDLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to lock configuration %q: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the config fd. Calls after the first
// are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Holder reports the pid of the daemon holding the lock on path, or zero
// when the configuration is not active.
func Holder(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("unable to open %q: %w", path, err)
	}
	defer f.Close()
	return writeLockBlockedBy(int(f.Fd()))
}

// Kill sends sig to the daemon holding the lock on path. Returns the pid
// signalled, or zero when no daemon holds the lock.
func Kill(path string, sig unix.Signal) (int, error) {
	pid, err := Holder(path)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}
	if err := unix.Kill(pid, sig); err != nil {
		return pid, fmt.Errorf("unable to send %s to pid %d: %w", sig, pid, err)
	}
	return pid, nil
}

// writeLockBlockedBy asks the kernel which process would block a write
// lock on fd. F_GETLK leaves the file untouched; it only reports the
// conflicting lock, with Type set back to F_UNLCK when none exists.
func writeLockBlockedBy(fd int) (int, error) {
	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_GETLK, &lk); err != nil {
		return 0, err
	}
	if lk.Type == unix.F_UNLCK {
		return 0, nil
	}
	return int(lk.Pid), nil
}
