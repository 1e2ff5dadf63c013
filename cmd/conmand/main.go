// conmand is the console concentrator daemon: it opens the consoles
// declared in its configuration file, logs their output, and serves
// attach requests from conman clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/confparse"
	"github.com/lollipopman/conman/internal/daemonlock"
	"github.com/lollipopman/conman/internal/ioengine"
	"github.com/lollipopman/conman/internal/link"
	"github.com/lollipopman/conman/internal/object"
	"github.com/lollipopman/conman/internal/wire"
)

const (
	pkgName  = "conman"
	version  = "0.5.1"
	features = ""

	defaultConfFile = "/etc/conman.conf"
	defaultPort     = 7890
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("conmand", flag.ContinueOnError)
	var (
		confFile    = fs.String("c", defaultConfFile, "")
		showHelp    = fs.Bool("h", false, "")
		killDaemon  = fs.Bool("k", false, "")
		portFlag    = fs.Int("p", 0, "")
		verbose     = fs.Bool("v", false, "")
		showVersion = fs.Bool("V", false, "")
		zeroLogs    = fs.Bool("z", false, "")
	)
	fs.Usage = func() { printUsage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showHelp {
		printUsage(os.Stdout)
		return 0
	}
	if *showVersion {
		fmt.Printf("%s-%s%s\n", pkgName, version, features)
		return 0
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *killDaemon {
		return kill(*confFile, *verbose)
	}

	if *portFlag < 0 {
		fmt.Fprintf(os.Stderr, "WARNING: Ignoring invalid port \"%d\".\n", *portFlag)
		*portFlag = 0
	}

	// The lock doubles as the single-instance guard and the handle -k
	// probes for; it must outlive the engine.
	lock, err := daemonlock.Acquire(*confFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	defer lock.Release()

	src, err := os.ReadFile(*confFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: unable to read %q: %v.\n", *confFile, err)
		return 1
	}
	conf, confErrs := confparse.Parse(*confFile, src)
	for _, e := range confErrs {
		fmt.Fprintln(os.Stderr, e.Error())
	}

	// Port precedence: command line, then config file, then built-in.
	port := conf.Port
	if *portFlag > 0 {
		port = *portFlag
	}
	if port <= 0 {
		port = defaultPort
	}

	reg := object.NewRegistry()
	links := link.NewManager(reg)
	buildGraph(reg, links, conf, *zeroLogs)

	if reg.Len() == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: configuration %q defines no usable consoles.\n", *confFile)
		return 1
	}

	if conf.PidFile != "" {
		if err := os.WriteFile(conf.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			slog.Warn("unable to write pidfile", "path", conf.PidFile, "error", err)
		} else {
			defer os.Remove(conf.PidFile)
		}
	}

	eng, err := ioengine.New(reg, links, ioengine.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}

	srv := wire.NewServer(eng, reg, wire.Options{
		Port:      port,
		LoopBack:  conf.LoopBack,
		KeepAlive: conf.KeepAlive,
	})
	if _, err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer stop()
	stopHangup := watchHangup(eng, reg, links, *confFile, *zeroLogs)
	defer stopHangup()

	slog.Info("conmand started", "config", *confFile, "port", port, "consoles", len(reg.Consoles()))
	if err := eng.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	return 0
}

func kill(confFile string, verbose bool) int {
	pid, err := daemonlock.Kill(confFile, unix.SIGTERM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	if verbose {
		if pid == 0 {
			fmt.Printf("Configuration %q is not active.\n", confFile)
		} else {
			fmt.Printf("Configuration %q (pid %d) terminated.\n", confFile, pid)
		}
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: conmand [OPTIONS]\n\n")
	fmt.Fprintf(w, "  -c FILE   Specify alternate configuration (default: %s).\n", defaultConfFile)
	fmt.Fprintf(w, "  -h        Display this help.\n")
	fmt.Fprintf(w, "  -k        Kill daemon running with specified configuration.\n")
	fmt.Fprintf(w, "  -p PORT   Specify alternate port number (default: %d).\n", defaultPort)
	fmt.Fprintf(w, "  -v        Be verbose.\n")
	fmt.Fprintf(w, "  -V        Display version information.\n")
	fmt.Fprintf(w, "  -z        Zero console log files.\n\n")
}
