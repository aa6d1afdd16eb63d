package driver

import "os"

// ShowHelp prints usage information for the driver tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Tourney Driver
==============

Creates tournaments against a running service, drives them to a terminal
state and checks that every tournament has a gap-free round history.

Usage:
  tourney-driver [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -tournaments int
        Number of tournaments to create (default 4)
  -lanes int
        Lanes per tournament (default 3)
  -rounds int
        Max rounds per tournament (default 5)
  -problem string
        Problem statement (default "metformin for glioblastoma")
  -workers int
        Tournaments driven concurrently (default CPU cores)
  -mode string
        auto (server runs the rounds, progress read from the SSE stream)
        or manual (one POST per round) (default "auto")
  -timeout duration
        HTTP request timeout (default 30s)
  -verbose
        Log every round
  -help
        Show this help message

Examples:
  tourney-driver -tournaments 20 -lanes 5 -rounds 10
  tourney-driver -mode manual -url http://localhost:8080
`)
}
