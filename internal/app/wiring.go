package service

import (
	"context"
	"fmt"

	"github.com/okian/tourney/internal/adapters/llm"
	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/adapters/simulated"
	"github.com/okian/tourney/internal/config"
	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/round"
	"github.com/okian/tourney/internal/domain/scoring"
	"github.com/okian/tourney/pkg/logger"
)

// NewFromConfig builds a Service from cfg, opening the configured store and
// external service. The returned service is not started.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	scale := scoring.Scale{Min: cfg.ScoreMin, Max: cfg.ScoreMax}
	if err := scale.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	proposer, scorer, err := externalService(cfg, scale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info(ctx, "service configured",
		logger.String("store", cfg.StoreDriver),
		logger.String("proposer", cfg.Proposer),
	)
	return New(
		WithLogger(log),
		WithStore(store),
		WithProposer(proposer),
		WithScorer(scorer),
		WithLaneOptions(
			lane.WithLaneTimeout(cfg.LaneTimeout()),
			lane.WithRetries(cfg.ProposeRetries),
			lane.WithBackoff(cfg.RetryBackoff()),
			lane.WithRateLimit(cfg.ExternalRPS, cfg.ExternalBurst),
			lane.WithScale(scale),
		),
		WithRoundOptions(
			round.WithLaneConcurrency(cfg.LaneConcurrency),
			round.WithMaxCommitFailures(cfg.MaxCommitFailures),
			round.WithStallLimit(cfg.StallLimit),
		),
		WithSubscriberBuffer(cfg.SubscriberBuffer),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
	), nil
}

func openStore(cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return repository.NewMemoryStore(repository.WithLogger(log.Named("store"))), nil
	case config.StoreBadger:
		return repository.NewBadgerStore(cfg.BadgerPath,
			repository.WithSyncWrites(cfg.BadgerSyncWrites),
			repository.WithLogger(log.Named("store")),
		)
	default:
		return nil, fmt.Errorf("%w: store %q", ErrUnknownDriver, cfg.StoreDriver)
	}
}

func externalService(cfg *config.Config, scale scoring.Scale, log logger.Logger) (lane.Proposer, lane.Scorer, error) {
	switch cfg.Proposer {
	case config.ProposerSimulated:
		lo, hi := cfg.SimulatedLatency()
		opts := []simulated.Option{
			simulated.WithLatencyRange(lo, hi),
			simulated.WithSeed(cfg.SimulatedSeed),
			simulated.WithFailureRate(cfg.SimulatedFailureRate),
			simulated.WithScale(scale),
		}
		return simulated.NewProposer(opts...), simulated.NewScorer(opts...), nil
	case config.ProposerOpenAI:
		client, err := llm.New(cfg.OpenAIAPIKey,
			llm.WithModel(cfg.OpenAIModel),
			llm.WithBaseURL(cfg.OpenAIBaseURL),
			llm.WithLogger(log.Named("llm")),
		)
		if err != nil {
			return nil, nil, err
		}
		return client.Proposer(), client.Scorer(scale.Min, scale.Max), nil
	default:
		return nil, nil, fmt.Errorf("%w: proposer %q", ErrUnknownDriver, cfg.Proposer)
	}
}
