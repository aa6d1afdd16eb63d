package lane

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/tourney/internal/domain/scoring"
	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLaneTimeout bounds one lane's whole round, retries included.
func WithLaneTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.laneTimeout = d
		}
	}
}

// WithRetries sets how many times a failed external call is retried.
func WithRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithBackoff sets the exponential backoff bounds between retries.
func WithBackoff(initial, max time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 && max >= initial {
			e.initialBackoff = initial
			e.maxBackoff = max
		}
	}
}

// WithRateLimit shares a token bucket across all external calls.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		if rps <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithScale sets the score scale.
func WithScale(s scoring.Scale) Option {
	return func(e *Engine) {
		if s.Validate() == nil {
			e.scale = s
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
