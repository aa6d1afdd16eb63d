package simulated

import (
	"time"

	"github.com/okian/tourney/internal/domain/scoring"
)

// Option applies a configuration option to the simulator.
type Option func(*sim)

// WithLatencyRange sets the simulated call latency range. A zero range
// disables the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *sim) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithSeed sets the random seed used for latency and failure injection.
func WithSeed(seed int64) Option {
	return func(s *sim) { s.seed = seed }
}

// WithFailureRate makes a fraction of calls fail with ErrSimulatedFailure.
func WithFailureRate(rate float64) Option {
	return func(s *sim) {
		if rate >= 0 && rate <= 1 {
			s.failureRate = rate
		}
	}
}

// WithScale sets the score scale of the scorer.
func WithScale(scale scoring.Scale) Option {
	return func(s *sim) {
		if scale.Validate() == nil {
			s.scale = scale
		}
	}
}

// WithCriteria sets the criteria scored when a tournament declares no goals.
func WithCriteria(criteria ...string) Option {
	return func(s *sim) {
		if len(criteria) > 0 {
			s.criteria = append([]string(nil), criteria...)
		}
	}
}
