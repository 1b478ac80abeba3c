package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "sessions":
		sessionsCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  socratic run --topic <topic> [--config <file.yaml>] [--attach <glob>]... [--max-turns <n>] [--no-auto]")
	fmt.Fprintln(os.Stderr, "  socratic serve [--config <file.yaml>] [--listen <addr>]")
	fmt.Fprintln(os.Stderr, "  socratic sessions list [--config <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  socratic sessions delete --id <session-id> [--config <file.yaml>]")
}
