package driver

import (
	"time"

	"github.com/okian/tourney/pkg/logger"
)

// Drive modes.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// Config holds configuration for a driver run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Tournaments int           // Number of tournaments to create
	Lanes       int           // Lanes per tournament
	Rounds      int           // Max rounds per tournament
	Problem     string        // Problem statement sent with every tournament
	Workers     int           // Tournaments driven concurrently
	Timeout     time.Duration // HTTP request timeout
	Mode        string        // auto: server-side chain; manual: one POST per round
	Verbose     bool          // Log every round
	Logger      logger.Logger // Defaults to a no-op logger
}

// Stats holds run statistics.
type Stats struct {
	Created        int
	Duplicates     int
	Completed      int
	Failed         int
	RoundsVerified int
	StartTime      time.Time
	Duration       time.Duration
}
