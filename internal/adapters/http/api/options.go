package api

import (
	"time"

	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithHeartbeat sets how often idle streams are pinged.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
