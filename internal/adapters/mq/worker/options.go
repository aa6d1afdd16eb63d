package worker

import (
	"time"

	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithReleaser sets who is told when a tournament's chain of jobs ends.
func WithReleaser(r Releaser) Option {
	return func(w *InMemoryWorker) {
		if r != nil {
			w.releaser = r
		}
	}
}

// WithMaxAttempts sets how many times a failing round job is retried.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRequeueBackoff bounds how long a worker keeps trying to requeue the
// next round into a full queue.
func WithRequeueBackoff(initial, maxElapsed time.Duration) Option {
	return func(w *InMemoryWorker) {
		if initial > 0 {
			w.requeueInitial = initial
		}
		if maxElapsed > 0 {
			w.requeueMaxElapsed = maxElapsed
		}
	}
}
