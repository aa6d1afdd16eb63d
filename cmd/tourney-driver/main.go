package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/tourney/internal/driver"
	"github.com/okian/tourney/pkg/logger"
)

// Default configuration constants.
const (
	defaultTournaments = 4
	defaultLanes       = 3
	defaultRounds      = 5
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	defaultProblem     = "metformin for glioblastoma"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		tournaments = flag.Int("tournaments", defaultTournaments, "Number of tournaments to create")
		lanes       = flag.Int("lanes", defaultLanes, "Lanes per tournament")
		rounds      = flag.Int("rounds", defaultRounds, "Max rounds per tournament")
		problem     = flag.String("problem", defaultProblem, "Problem statement")
		workers     = flag.Int("workers", runtime.NumCPU(), "Tournaments driven concurrently")
		mode        = flag.String("mode", driver.ModeAuto, "auto or manual")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose     = flag.Bool("verbose", false, "Log every round")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		driver.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	cfg := &driver.Config{
		BaseURL:     *baseURL,
		Tournaments: *tournaments,
		Lanes:       *lanes,
		Rounds:      *rounds,
		Problem:     *problem,
		Workers:     *workers,
		Timeout:     *timeout,
		Mode:        *mode,
		Verbose:     *verbose,
		Logger:      logger.Named("driver"),
	}
	_, err := driver.Run(ctx, cfg)
	cancel()
	if err != nil {
		_, _ = os.Stderr.WriteString("Run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
