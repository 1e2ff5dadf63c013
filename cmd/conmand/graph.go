package main

import (
	"log/slog"

	"github.com/lollipopman/conman/internal/confparse"
	"github.com/lollipopman/conman/internal/link"
	"github.com/lollipopman/conman/internal/object"
	"github.com/lollipopman/conman/internal/opener"
	"github.com/lollipopman/conman/internal/redact"
)

// buildGraph turns parsed CONSOLE directives into live objects: each
// console is opened immediately so logging starts at boot, and a LOG=
// clause links a logfile reader to it. A console that cannot open is
// removed from the configuration; the daemon proceeds without it.
func buildGraph(reg *object.Registry, links *link.Manager, conf *confparse.Config, zeroLogs bool) {
	for _, def := range conf.Consoles {
		addConsole(reg, links, def, zeroLogs)
	}
}

// addConsole creates, registers, and opens one console (plus its optional
// logfile). Returns false when the console was dropped.
func addConsole(reg *object.Registry, links *link.Manager, def confparse.ConsoleDef, zeroLogs bool) bool {
	safe := redact.Console(def)

	con, err := object.NewConsole(def.Name, def.Dev, def.Bps, def.Rst, opener.ForDevice(def.Dev))
	if err != nil {
		slog.Warn("console removed from the configuration",
			"console", def.Name, "dev", safe.Dev, "error", err)
		return false
	}
	if err := reg.Insert(con); err != nil {
		slog.Warn("console removed from the configuration",
			"console", def.Name, "error", err)
		return false
	}
	if err := con.Open(); err != nil {
		slog.Warn("console removed from the configuration",
			"console", def.Name, "dev", safe.Dev, "error", err)
		reg.Remove(con)
		return false
	}
	slog.Debug("console opened", "console", def.Name, "dev", safe.Dev, "bps", def.Bps)

	if def.Log == "" {
		return true
	}

	lf, err := object.NewLogFile(def.Log, zeroLogs)
	if err == nil {
		if insErr := reg.Insert(lf); insErr != nil {
			err = insErr
		} else if attErr := links.Attach(con, lf); attErr != nil {
			reg.Remove(lf)
			err = attErr
		}
	}
	if err != nil {
		slog.Warn("console cannot be logged",
			"console", def.Name, "log", def.Log, "error", err)
	}
	return true
}
