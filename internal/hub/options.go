package hub

import "github.com/okian/tourney/pkg/logger"

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBuffer sets how many undelivered events a subscriber may hold
// before it is dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
