package main

import (
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/confparse"
	"github.com/lollipopman/conman/internal/ioengine"
	"github.com/lollipopman/conman/internal/link"
	"github.com/lollipopman/conman/internal/object"
)

// watchHangup reloads the configuration on SIGHUP: consoles added to the
// file are created and opened; existing consoles and their sessions are
// left untouched. Returns a stop function.
func watchHangup(eng *ioengine.Engine, reg *object.Registry, links *link.Manager, confFile string, zeroLogs bool) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				reload(eng, reg, links, confFile, zeroLogs)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func reload(eng *ioengine.Engine, reg *object.Registry, links *link.Manager, confFile string, zeroLogs bool) {
	src, err := os.ReadFile(confFile)
	if err != nil {
		slog.Warn("reload failed", "config", confFile, "error", err)
		return
	}
	conf, confErrs := confparse.Parse(confFile, src)
	for _, e := range confErrs {
		slog.Warn("reload config error", "error", e.Error())
	}

	// Graph mutation belongs to the engine goroutine.
	eng.Enqueue(func() {
		added := 0
		for _, def := range conf.Consoles {
			if reg.Lookup(object.Console, def.Name) != nil {
				continue
			}
			if addConsole(reg, links, def, zeroLogs) {
				added++
			}
		}
		slog.Info("configuration reloaded", "config", confFile, "new_consoles", added)
	})
}
