// conman is the interactive console client: it asks conmand for the
// console list, lets the operator pick one (or names it directly), and
// relays the raw console session to the local terminal.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lollipopman/conman/internal/clientconfig"
)

const (
	pkgName  = "conman"
	version  = "0.5.1"
	features = ""
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("conman", flag.ContinueOnError)
	var (
		dest        = fs.String("d", "", "")
		cfgPath     = fs.String("c", "", "")
		query       = fs.Bool("q", false, "")
		showVersion = fs.Bool("V", false, "")
	)
	fs.Usage = func() { printUsage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Printf("%s-%s%s\n", pkgName, version, features)
		return 0
	}

	cfg, err := clientconfig.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
		return 1
	}
	addr := cfg.Server
	if *dest != "" {
		addr = *dest
	}

	if *query {
		names, err := listConsoles(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
			return 1
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return 0
	}

	console := fs.Arg(0)
	if console == "" {
		names, err := listConsoles(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
			return 1
		}
		if len(names) == 0 {
			fmt.Fprintf(os.Stderr, "ERROR: no consoles configured on %s.\n", addr)
			return 1
		}

		m, err := tea.NewProgram(newPicker(names), tea.WithAltScreen()).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v.\n", err)
			return 1
		}
		console = m.(pickerModel).choice
		if console == "" {
			return 0
		}
	}

	return attach(addr, console, cfg.Escape)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: conman [OPTIONS] [CONSOLE]\n\n")
	fmt.Fprintf(w, "  -c FILE        Specify alternate client configuration.\n")
	fmt.Fprintf(w, "  -d HOST:PORT   Specify daemon destination.\n")
	fmt.Fprintf(w, "  -q             Query console names and exit.\n")
	fmt.Fprintf(w, "  -V             Display version information.\n\n")
	fmt.Fprintf(w, "With no CONSOLE argument, an interactive picker is shown.\n")
}
