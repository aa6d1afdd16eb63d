// Package round coordinates tournament rounds: it fans lanes out in
// parallel, waits for all of them, commits the round atomically and then
// publishes it. Rounds of one tournament never overlap.
package round

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/tournament"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

// CancelReason is the failure reason recorded when a tournament is cancelled.
const CancelReason = "cancelled"

const (
	defaultLaneConcurrency   = 8
	defaultMaxCommitFailures = 3
)

var tracer = otel.Tracer("tourney.round")

// Store is the persistence the coordinator needs.
type Store interface {
	CreateTournament(ctx context.Context, t model.Tournament, seeds []model.Idea, reviews []model.Review) error
	Tournament(ctx context.Context, id string) (model.Tournament, error)
	UpdateTournament(ctx context.Context, t model.Tournament) error
	CommitRound(ctx context.Context, c repository.RoundCommit) error
	Round(ctx context.Context, tournamentID string, round int) (model.RoundSummary, error)
	Champions(ctx context.Context, tournamentID string) ([]model.Idea, error)
}

// Evolver runs lanes.
type Evolver interface {
	Seed(ctx context.Context, t model.Tournament, lane int) (model.Idea, []model.Review, error)
	Evolve(ctx context.Context, in lane.Input) lane.Outcome
}

// Publisher receives committed rounds.
type Publisher interface {
	Publish(tournamentID string, ev model.Event)
}

// Coordinator runs rounds. It is safe for concurrent use; calls for the
// same tournament are serialized, calls for different tournaments are not.
type Coordinator struct {
	store     Store
	evolver   Evolver
	publisher Publisher
	locks     *keyedMutex

	laneConcurrency   int
	maxCommitFailures int
	stallLimit        int

	mu       sync.Mutex
	failures map[string]int

	now    func() time.Time
	logger logger.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store Store, evolver Evolver, publisher Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:             store,
		evolver:           evolver,
		publisher:         publisher,
		locks:             newKeyedMutex(),
		laneConcurrency:   defaultLaneConcurrency,
		maxCommitFailures: defaultMaxCommitFailures,
		stallLimit:        tournament.DefaultStallLimit,
		failures:          make(map[string]int),
		now:               time.Now,
		logger:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates p, seeds one champion per lane and persists the
// tournament with its seeds. Nothing is stored if any lane fails to seed.
func (c *Coordinator) Create(ctx context.Context, p tournament.Params) (model.Tournament, error) {
	if p.StallLimit == 0 {
		p.StallLimit = c.stallLimit
	}
	t, err := tournament.New(p, c.now())
	if err != nil {
		return model.Tournament{}, err
	}

	seeds := make([]model.Idea, t.Lanes)
	reviews := make([][]model.Review, t.Lanes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.laneConcurrency)
	for i := 0; i < t.Lanes; i++ {
		g.Go(func() error {
			seed, rs, err := c.evolver.Seed(gctx, t, i)
			if err != nil {
				return err
			}
			seeds[i] = seed
			reviews[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Tournament{}, fmt.Errorf("%w: tournament %s: %w", ErrSeedingFailed, t.ID, err)
	}

	var all []model.Review
	for _, rs := range reviews {
		all = append(all, rs...)
	}
	if err := c.store.CreateTournament(ctx, t, seeds, all); err != nil {
		return model.Tournament{}, fmt.Errorf("persist tournament %s: %w", t.ID, err)
	}
	metrics.RecordTournamentCreated()
	c.logger.Info(ctx, "tournament created",
		logger.String("tournament_id", t.ID),
		logger.Int("lanes", t.Lanes),
		logger.Int("max_rounds", t.MaxRounds),
	)
	return t, nil
}

// RunRound runs the next round of a tournament.
func (c *Coordinator) RunRound(ctx context.Context, tournamentID string) (model.RoundSummary, error) {
	unlock := c.locks.Lock(tournamentID)
	defer unlock()

	t, err := c.load(ctx, tournamentID)
	if err != nil {
		return model.RoundSummary{}, err
	}
	return c.run(ctx, t)
}

// RunRoundNumber runs round n if it is the next round. If round n is
// already committed its stored summary is returned unchanged, which makes
// retries of a round request safe.
func (c *Coordinator) RunRoundNumber(ctx context.Context, tournamentID string, n int) (model.RoundSummary, error) {
	unlock := c.locks.Lock(tournamentID)
	defer unlock()

	t, err := c.load(ctx, tournamentID)
	if err != nil {
		return model.RoundSummary{}, err
	}
	switch {
	case n >= 1 && n <= t.CurrentRound:
		return c.store.Round(ctx, tournamentID, n)
	case n == t.CurrentRound+1:
		return c.run(ctx, t)
	default:
		return model.RoundSummary{}, fmt.Errorf("%w: tournament %s is at round %d, round %d requested",
			tournament.ErrInvalidTransition, tournamentID, t.CurrentRound, n)
	}
}

// Cancel fails the tournament with reason "cancelled". An in-flight round
// finishes first.
func (c *Coordinator) Cancel(ctx context.Context, tournamentID string) (model.Tournament, error) {
	unlock := c.locks.Lock(tournamentID)
	defer unlock()

	t, err := c.load(ctx, tournamentID)
	if err != nil {
		return model.Tournament{}, err
	}
	if err := tournament.Fail(&t, c.now(), CancelReason); err != nil {
		return model.Tournament{}, err
	}
	if err := c.store.UpdateTournament(ctx, t); err != nil {
		return model.Tournament{}, fmt.Errorf("persist cancel of %s: %w", tournamentID, err)
	}
	c.finish(ctx, t)
	return t, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (model.Tournament, error) {
	t, err := c.store.Tournament(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Tournament{}, fmt.Errorf("%w: %s", tournament.ErrNotFound, id)
	}
	return t, err
}

// run executes one round. The caller holds the tournament lock.
func (c *Coordinator) run(ctx context.Context, current model.Tournament) (model.RoundSummary, error) {
	next := current.Clone()
	if err := tournament.AdvanceRound(&next); err != nil {
		return model.RoundSummary{}, err
	}
	roundNo := next.CurrentRound
	log := c.logger.With(logger.String("tournament_id", next.ID), logger.Int("round", roundNo))

	ctx, span := tracer.Start(ctx, "round.RunRound",
		trace.WithAttributes(
			attribute.String("tournament.id", next.ID),
			attribute.Int("round", roundNo),
			attribute.Int("lanes", next.Lanes),
		),
	)
	defer span.End()
	start := time.Now()

	champions, err := c.store.Champions(ctx, next.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.RoundSummary{}, fmt.Errorf("load champions of %s: %w", next.ID, err)
	}
	if len(champions) != next.Lanes {
		err := fmt.Errorf("%w: tournament %s has %d champions for %d lanes", ErrCorruptState, next.ID, len(champions), next.Lanes)
		span.SetStatus(codes.Error, err.Error())
		return model.RoundSummary{}, err
	}

	// A started round runs to completion even if the caller goes away; each
	// lane is bounded by its own timeout.
	laneCtx := context.WithoutCancel(ctx)
	outcomes := make([]lane.Outcome, len(champions))
	var g errgroup.Group
	g.SetLimit(c.laneConcurrency)
	for i, champ := range champions {
		g.Go(func() error {
			outcomes[i] = c.evolver.Evolve(laneCtx, lane.Input{Tournament: next, Champion: champ, Round: roundNo})
			return nil
		})
	}
	_ = g.Wait()

	commit := c.assemble(next, outcomes)
	tournament.RecordStalls(&commit.Tournament, commit.Summary.AllStalled())
	if tournament.ShouldComplete(commit.Tournament) {
		if err := tournament.Complete(&commit.Tournament, c.now()); err != nil {
			return model.RoundSummary{}, err
		}
	}
	commit.Summary.Status = commit.Tournament.Status
	commit.Summary.Final = commit.Tournament.Status.Terminal()

	if err := c.store.CommitRound(laneCtx, commit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, repository.ErrDuplicateRound) {
			// Someone else committed this round; theirs is the record.
			return c.store.Round(laneCtx, next.ID, roundNo)
		}
		return model.RoundSummary{}, c.commitFailed(laneCtx, current, err)
	}
	c.resetFailures(next.ID)

	metrics.RecordRoundCompleted(float64(time.Since(start).Milliseconds()))
	for _, o := range outcomes {
		switch {
		case o.Stalled:
			metrics.RecordLaneOutcome(metrics.OutcomeStalled, 0)
		case o.Promoted:
			metrics.RecordLaneOutcome(metrics.OutcomePromoted, o.Delta)
		default:
			metrics.RecordLaneOutcome(metrics.OutcomeRetained, 0)
		}
	}
	span.SetAttributes(
		attribute.Int("lanes.stalled", len(commit.Summary.Stalled)),
		attribute.String("status", string(commit.Tournament.Status)),
	)
	span.SetStatus(codes.Ok, "")
	log.Info(ctx, "round committed",
		logger.Int("stalled", len(commit.Summary.Stalled)),
		logger.String("status", string(commit.Tournament.Status)),
		logger.Duration("elapsed", time.Since(start)),
	)

	c.publisher.Publish(next.ID, model.RoundEvent(commit.Summary))
	if commit.Summary.Final {
		c.finish(ctx, commit.Tournament)
	}
	return commit.Summary, nil
}

// assemble builds the round's commit from lane outcomes.
func (c *Coordinator) assemble(next model.Tournament, outcomes []lane.Outcome) repository.RoundCommit {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Lane < outcomes[j].Lane })
	commit := repository.RoundCommit{
		Tournament: next,
		Summary: model.RoundSummary{
			TournamentID: next.ID,
			Round:        next.CurrentRound,
			Lanes:        []model.LaneEntry{},
			CreatedAt:    c.now().UTC(),
		},
		Champions: make(map[int]string, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Stalled {
			commit.Summary.Stalled = append(commit.Summary.Stalled, o.Lane)
			continue
		}
		challengerScore := o.Challenger.OverallScore
		delta := o.Delta
		commit.Summary.Lanes = append(commit.Summary.Lanes, model.LaneEntry{
			Lane:                   o.Lane,
			ChampionIdeaID:         o.Winner.ID,
			ChampionScore:          o.Winner.OverallScore,
			PreviousChampionIdeaID: o.ChampionBefore.ID,
			ChallengerIdeaID:       o.Challenger.ID,
			ChallengerScore:        &challengerScore,
			Delta:                  &delta,
			Promoted:               o.Promoted,
		})
		commit.Ideas = append(commit.Ideas, o.Challenger)
		commit.Reviews = append(commit.Reviews, o.Reviews...)
		commit.Champions[o.Lane] = o.Winner.ID
	}
	return commit
}

// commitFailed counts a failed commit and fails the tournament once the
// limit is reached. The returned error always wraps ErrCommitFailed.
func (c *Coordinator) commitFailed(ctx context.Context, current model.Tournament, cause error) error {
	metrics.RecordRoundCommitFailure()
	c.mu.Lock()
	c.failures[current.ID]++
	n := c.failures[current.ID]
	c.mu.Unlock()

	c.logger.Error(ctx, "round commit failed",
		logger.String("tournament_id", current.ID),
		logger.Int("consecutive_failures", n),
		logger.Error(cause),
	)
	if n < c.maxCommitFailures {
		return fmt.Errorf("%w: tournament %s: %w", ErrCommitFailed, current.ID, cause)
	}

	c.resetFailures(current.ID)
	failed := current.Clone()
	reason := fmt.Sprintf("persistence failed %d times: %v", n, cause)
	if err := tournament.Fail(&failed, c.now(), reason); err == nil {
		if err := c.store.UpdateTournament(ctx, failed); err != nil {
			c.logger.Error(ctx, "could not persist failed tournament",
				logger.String("tournament_id", current.ID), logger.Error(err))
		} else {
			c.finish(ctx, failed)
		}
	}
	return fmt.Errorf("%w: tournament %s failed after %d attempts: %w", ErrCommitFailed, current.ID, n, cause)
}

func (c *Coordinator) resetFailures(id string) {
	c.mu.Lock()
	delete(c.failures, id)
	c.mu.Unlock()
}

// finish publishes the final event for a terminal tournament.
func (c *Coordinator) finish(ctx context.Context, t model.Tournament) {
	metrics.RecordTournamentFinished(string(t.Status))
	c.logger.Info(ctx, "tournament finished",
		logger.String("tournament_id", t.ID),
		logger.String("status", string(t.Status)),
		logger.String("reason", t.FailureReason),
		logger.Int("rounds", t.CurrentRound),
	)
	c.publisher.Publish(t.ID, model.FinalEvent(t))
}
