package service

import (
	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/round"
	"github.com/okian/tourney/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithProposer sets where challenger ideas come from.
func WithProposer(p lane.Proposer) Option {
	return func(s *Service) {
		if p != nil {
			s.proposer = p
		}
	}
}

// WithScorer sets who scores ideas.
func WithScorer(sc lane.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithLaneOptions configures the lane engine.
func WithLaneOptions(opts ...lane.Option) Option {
	return func(s *Service) {
		s.laneOpts = append(s.laneOpts, opts...)
	}
}

// WithRoundOptions configures the round coordinator.
func WithRoundOptions(opts ...round.Option) Option {
	return func(s *Service) {
		s.roundOpts = append(s.roundOpts, opts...)
	}
}

// WithSubscriberBuffer bounds each stream subscriber's pending events.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithWorkerCount sets the number of round workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending round jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many request ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
