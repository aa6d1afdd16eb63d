// Package service wires the tournament engine together and exposes the
// operations the HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/tourney/internal/adapters/mq/queue"
	"github.com/okian/tourney/internal/adapters/mq/worker"
	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/adapters/simulated"
	"github.com/okian/tourney/internal/domain/dedupe"
	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/round"
	"github.com/okian/tourney/internal/domain/tournament"
	"github.com/okian/tourney/internal/domain/types"
	"github.com/okian/tourney/internal/hub"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

// Service implements the API dependencies for the tournament engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	proposer    lane.Proposer
	scorer      lane.Scorer
	engine      *lane.Engine
	coordinator *round.Coordinator
	hub         *hub.Hub
	deduper     dedupe.Deduper
	jobs        *queue.InMemoryQueue
	pool        *worker.Pool

	// Configuration
	laneOpts         []lane.Option
	roundOpts        []round.Option
	subscriberBuffer int
	workerCount      int
	queueSize        int
	dedupeSize       int

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		subscriberBuffer: 64,
		workerCount:      runtime.NumCPU(),
		queueSize:        1024,
		dedupeSize:       50_000,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts the service components. Missing store, proposer
// or scorer default to the in-memory store and the simulated service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting tournament service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.proposer == nil {
		s.proposer = simulated.NewProposer()
	}
	if s.scorer == nil {
		s.scorer = simulated.NewScorer()
	}

	laneOpts := append([]lane.Option{lane.WithLogger(s.logger.Named("lane"))}, s.laneOpts...)
	s.engine = lane.NewEngine(s.proposer, s.scorer, laneOpts...)

	s.hub = hub.New(s.store, hub.WithBuffer(s.subscriberBuffer), hub.WithLogger(s.logger.Named("hub")))

	roundOpts := append([]round.Option{round.WithLogger(s.logger.Named("round"))}, s.roundOpts...)
	s.coordinator = round.NewCoordinator(s.store, s.engine, s.hub, roundOpts...)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.jobs, s.coordinator,
		worker.WithReleaser(s.deduper),
		worker.WithLogger(s.logger),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "tournament service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the workers, ends every stream and closes the store. A
// stopped service is not restarted.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping tournament service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not stop cleanly", logger.Error(err))
	}
	s.cancel()
	s.hub.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "tournament service stopped")
}

// running returns ErrNotStarted until Start has been called.
func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// CreateTournament seeds and stores a tournament. A repeated non-empty
// requestID returns the tournament created by the first request and
// duplicate=true.
func (s *Service) CreateTournament(ctx context.Context, requestID string, p tournament.Params) (t model.Tournament, duplicate bool, err error) {
	if err := s.running(); err != nil {
		return model.Tournament{}, false, err
	}
	if requestID == "" {
		t, err = s.coordinator.Create(ctx, p)
		return t, false, err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	key := requestKey(requestID)
	if prev, seen := s.deduper.SeenOrRecord(ctx, key, p.ID); seen {
		t, err := s.store.Tournament(ctx, prev)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Tournament{}, true, fmt.Errorf("%w: %w: request %s", ErrRequestInProgress, repository.ErrConflict, requestID)
		}
		return t, true, err
	}

	t, err = s.coordinator.Create(ctx, p)
	if err != nil {
		// Let the client retry the same request id.
		s.deduper.Unrecord(ctx, key)
		return model.Tournament{}, false, err
	}
	return t, false, nil
}

// Tournament returns a tournament.
func (s *Service) Tournament(ctx context.Context, id string) (model.Tournament, error) {
	if err := s.running(); err != nil {
		return model.Tournament{}, err
	}
	return s.store.Tournament(ctx, id)
}

// Tournaments lists every tournament.
func (s *Service) Tournaments(ctx context.Context) ([]model.Tournament, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.store.Tournaments(ctx)
}

// Rounds returns the committed round history, oldest first.
func (s *Service) Rounds(ctx context.Context, id string) ([]model.RoundSummary, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.store.Rounds(ctx, id, 1)
}

// Round returns one committed round.
func (s *Service) Round(ctx context.Context, id string, n int) (model.RoundSummary, error) {
	if err := s.running(); err != nil {
		return model.RoundSummary{}, err
	}
	return s.store.Round(ctx, id, n)
}

// Standings ranks the current lane champions.
func (s *Service) Standings(ctx context.Context, id string) ([]types.Entry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	champions, err := s.store.Champions(ctx, id)
	if err != nil {
		return nil, err
	}
	return types.Standings(champions), nil
}

// Idea returns an idea.
func (s *Service) Idea(ctx context.Context, id string) (model.Idea, error) {
	if err := s.running(); err != nil {
		return model.Idea{}, err
	}
	return s.store.Idea(ctx, id)
}

// Reviews returns every review of an idea.
func (s *Service) Reviews(ctx context.Context, ideaID string) ([]model.Review, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if _, err := s.store.Idea(ctx, ideaID); err != nil {
		return nil, err
	}
	return s.store.Reviews(ctx, ideaID)
}

// Review returns one evaluator's review of an idea.
func (s *Service) Review(ctx context.Context, ideaID, evaluatorID string) (model.Review, error) {
	if err := s.running(); err != nil {
		return model.Review{}, err
	}
	return s.store.Review(ctx, ideaID, evaluatorID)
}

// RunRound runs round n, or the next round when n is 0.
func (s *Service) RunRound(ctx context.Context, id string, n int) (model.RoundSummary, error) {
	if err := s.running(); err != nil {
		return model.RoundSummary{}, err
	}
	if n == 0 {
		return s.coordinator.RunRound(ctx, id)
	}
	return s.coordinator.RunRoundNumber(ctx, id, n)
}

// AutoRun queues the tournament to be driven to its end by the workers.
// queued is false when it is already being driven.
func (s *Service) AutoRun(ctx context.Context, id string) (queued bool, err error) {
	if err := s.running(); err != nil {
		return false, err
	}
	t, err := s.store.Tournament(ctx, id)
	if err != nil {
		return false, err
	}
	if t.Status.Terminal() {
		return false, fmt.Errorf("%w: tournament %s is %s", tournament.ErrTerminalState, id, t.Status)
	}

	key := worker.DriveKey(id)
	if _, seen := s.deduper.SeenOrRecord(ctx, key, id); seen {
		return false, nil
	}
	if err := s.jobs.Enqueue(ctx, queue.Job{TournamentID: id}); err != nil {
		s.deduper.Unrecord(ctx, key)
		return false, err
	}
	return true, nil
}

// Cancel fails the tournament with reason "cancelled" once any running
// round has finished.
func (s *Service) Cancel(ctx context.Context, id string) (model.Tournament, error) {
	if err := s.running(); err != nil {
		return model.Tournament{}, err
	}
	return s.coordinator.Cancel(ctx, id)
}

// Subscribe opens a live round stream.
func (s *Service) Subscribe(ctx context.Context, id string) (*hub.Subscription, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.jobs.Len()
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = s.deduper.Size()
	metrics.UpdateQueueSize(queueLen)

	if all, err := s.store.Tournaments(context.Background()); err == nil {
		byStatus := map[model.Status]int{}
		for _, t := range all {
			byStatus[t.Status]++
		}
		stats["tournaments"] = len(all)
		stats["inProgress"] = byStatus[model.StatusInProgress]
		stats["completed"] = byStatus[model.StatusCompleted]
		stats["failed"] = byStatus[model.StatusFailed]
	}
	return stats
}

func requestKey(requestID string) string { return "request:" + requestID }
