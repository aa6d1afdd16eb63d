package repository

import (
	"time"

	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	logger         logger.Logger
	inMemory       bool
	syncWrites     bool
	gcInterval     time.Duration
	gcDiscardRatio float64
}

func defaultOptions() options {
	return options{
		logger:         logger.Nop(),
		syncWrites:     true,
		gcInterval:     5 * time.Minute,
		gcDiscardRatio: 0.5,
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInMemory keeps badger data in memory only. The path is ignored.
func WithInMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithSyncWrites toggles fsync on every badger commit.
func WithSyncWrites(sync bool) Option {
	return func(o *options) { o.syncWrites = sync }
}

// WithGC sets how often badger value log GC runs. interval <= 0 disables it.
func WithGC(interval time.Duration, discardRatio float64) Option {
	return func(o *options) {
		o.gcInterval = interval
		if discardRatio > 0 && discardRatio < 1 {
			o.gcDiscardRatio = discardRatio
		}
	}
}
