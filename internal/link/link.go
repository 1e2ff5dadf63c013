// Package link is the sole writer of the console graph's topology. Every
// writer/readers edge is created by Attach and dissolved by Close or its
// internal detach helper; no other package touches those fields. Keeping
// one owner makes the link-symmetry invariant (a in b.Readers iff
// a.Writer == b) mechanically checkable.
package link

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lollipopman/conman/internal/object"
)

// Manager mutates the graph. It must only be used from the I/O engine's
// goroutine; see the engine's request channel for how other goroutines
// submit topology edits.
type Manager struct {
	reg *object.Registry

	// now is swappable so tests can pin the steal-notice timestamp.
	now func() time.Time
}

func NewManager(reg *object.Registry) *Manager {
	return &Manager{reg: reg, now: time.Now}
}

// Attach makes src write to dst, stealing the console from dst's current
// writer if one exists. Both endpoints are opened if inactive; an open
// failure from either side is propagated and the new edge is rolled back.
func (m *Manager) Attach(src, dst *object.Object) error {
	if err := checkPair(src, dst); err != nil {
		return err
	}

	// If the dst console is already in R/W use by another client, steal
	// it. The displaced client receives an in-band notice and is then
	// closed; the close cascade may destroy it.
	if dst.Writer != nil {
		displaced := dst.Writer
		notice := fmt.Sprintf("\nConsole '%s' stolen by <%s> at %s.\n",
			dst.Name, src.Name, m.now().Format(time.RFC1123))
		if _, err := displaced.WriteIn([]byte(notice)); err != nil {
			slog.Debug("steal notice dropped", "client", displaced.Name, "error", err)
		}
		slog.Info("console stolen", "console", dst.Name, "by", src.Name, "from", displaced.Name)
		m.Close(displaced)
	}

	dst.Writer = src
	src.Readers = append(src.Readers, dst)

	if err := src.Open(); err != nil {
		m.detach(dst)
		return err
	}
	if err := dst.Open(); err != nil {
		m.detach(dst)
		return err
	}

	slog.Debug("linked objects", "src", src.Name, "dst", dst.Name)
	return nil
}

func checkPair(src, dst *object.Object) error {
	switch dst.Kind {
	case object.Console:
		if src.Kind != object.ClientSocket {
			return fmt.Errorf("%w: console [%s] writer must be a client, not %s",
				object.ErrConfig, dst.Name, src.Kind)
		}
	case object.LogFile:
		if src.Kind != object.Console {
			return fmt.Errorf("%w: logfile %q writer must be a console, not %s",
				object.ErrConfig, dst.Name, src.Kind)
		}
	case object.ClientSocket:
		// The read side of a session: console output fans out to the
		// attached client.
		if src.Kind != object.Console {
			return fmt.Errorf("%w: client %s writer must be a console, not %s",
				object.ErrConfig, dst.Name, src.Kind)
		}
	default:
		return fmt.Errorf("%w: cannot attach to a %s object", object.ErrConfig, dst.Kind)
	}
	return nil
}

// detach removes obj from its writer's readers list and clears the
// back-pointer. It does not cascade; Close does.
func (m *Manager) detach(obj *object.Object) {
	w := obj.Writer
	if w == nil {
		return
	}
	for i, r := range w.Readers {
		if r == obj {
			w.Readers = append(w.Readers[:i], w.Readers[i+1:]...)
			break
		}
	}
	obj.Writer = nil
}

// Close tears an object out of the graph with drain-then-close semantics:
// links are dissolved immediately, orphaned neighbors are closed
// recursively, and the fd is closed only once the ring is empty. If the
// ring still holds data, EOF is latched and the I/O engine re-invokes
// Close after the final drain.
func (m *Manager) Close(obj *object.Object) {
	// Dissolve the edge from my writer to me. If that leaves the writer
	// fully orphaned, it goes down too.
	if w := obj.Writer; w != nil {
		m.detach(obj)
		if w.Writer == nil && len(w.Readers) == 0 {
			m.Close(w)
		}
	}

	// Dissolve the edge from me to each of my readers. A reader left with
	// no readers of its own is closed (but consoles and logfiles are not
	// destroyed; they persist across attachment cycles).
	readers := obj.Readers
	obj.Readers = nil
	for _, r := range readers {
		if r.Writer != obj {
			continue
		}
		r.Writer = nil
		if len(r.Readers) == 0 {
			m.Close(r)
		}
	}

	// Drain before close: with data still buffered, latch EOF and let the
	// engine flush it; the engine re-invokes Close once the ring is empty.
	if !obj.Buf.Empty() {
		obj.Buf.SetEOF()
		return
	}

	obj.Buf.ClearEOF()
	if err := obj.CloseFd(); err != nil {
		slog.Warn("close failed", "object", obj.Name, "error", err)
	}
	if obj.Kind == object.ClientSocket {
		m.reg.Remove(obj)
		slog.Debug("destroyed object", "kind", obj.Kind, "name", obj.Name)
	}
}
