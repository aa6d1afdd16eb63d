package round

import (
	"time"

	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithLaneConcurrency caps how many lanes of one round run at once.
func WithLaneConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.laneConcurrency = n
		}
	}
}

// WithMaxCommitFailures sets how many consecutive failed commits fail a tournament.
func WithMaxCommitFailures(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxCommitFailures = n
		}
	}
}

// WithStallLimit sets the stall limit given to tournaments created without one.
func WithStallLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.stallLimit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
