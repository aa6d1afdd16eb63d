// Package lane runs one lane of a tournament through one round: draft a
// challenger, score it against the champion and keep the better of the two.
package lane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/scoring"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

// Default engine configuration.
const (
	defaultLaneTimeout    = 2 * time.Minute
	defaultRetries        = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second

	callPropose = "propose"
	callScore   = "score"
)

// Proposer drafts a challenger from the current champion. champion is nil
// when seeding a lane. Only Title and Content of the result are used.
type Proposer interface {
	Propose(ctx context.Context, champion *model.Idea, t model.Tournament) (model.Idea, error)
}

// Evaluation is a scorer's verdict on one idea.
type Evaluation struct {
	// Scores maps criterion name to a score on the tournament scale.
	Scores map[string]float64
	// Reviews carry evaluator detail; IdeaID is filled in by the engine.
	Reviews []model.Review
}

// Scorer evaluates an idea against the tournament's criteria.
type Scorer interface {
	Score(ctx context.Context, idea model.Idea, t model.Tournament) (Evaluation, error)
}

// Input is one lane's work for a round.
type Input struct {
	Tournament model.Tournament
	Champion   model.Idea
	Round      int
}

// Outcome is the result of Evolve. When Stalled is true only Lane,
// ChampionBefore and Err are meaningful.
type Outcome struct {
	Lane    int
	Stalled bool
	Err     error
	// ChampionBefore is the incoming champion carrying this round's score.
	ChampionBefore model.Idea
	Challenger     model.Idea
	Winner         model.Idea
	Delta          float64
	Promoted       bool
	// Reviews are the challenger's reviews, ready to persist.
	Reviews []model.Review
}

// Engine evolves lanes. It is safe for concurrent use by many lanes.
type Engine struct {
	proposer Proposer
	scorer   Scorer
	limiter  *rate.Limiter
	scale    scoring.Scale

	laneTimeout    time.Duration
	retries        int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	now    func() time.Time
	logger logger.Logger
}

// NewEngine creates an engine around the external collaborators.
func NewEngine(proposer Proposer, scorer Scorer, opts ...Option) *Engine {
	e := &Engine{
		proposer:       proposer,
		scorer:         scorer,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		scale:          scoring.DefaultScale(),
		laneTimeout:    defaultLaneTimeout,
		retries:        defaultRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		now:            time.Now,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scale returns the score scale used for aggregation.
func (e *Engine) Scale() scoring.Scale { return e.scale }

// Evolve runs one round for one lane. It never returns an error: failures
// of the collaborators turn into a stalled outcome.
func (e *Engine) Evolve(ctx context.Context, in Input) Outcome {
	lane := in.Champion.Lane
	out := Outcome{Lane: lane, ChampionBefore: in.Champion.Clone()}
	log := e.logger.With(
		logger.String("tournament_id", in.Tournament.ID),
		logger.Int("lane", lane),
		logger.Int("round", in.Round),
	)

	laneCtx, cancel := context.WithTimeout(ctx, e.laneTimeout)
	defer cancel()

	champion := in.Champion.Clone()
	draft, err := e.propose(laneCtx, &champion, in.Tournament)
	if err != nil {
		log.Warn(ctx, "lane stalled: proposer exhausted", logger.Error(err))
		return stalled(out, err)
	}

	generation := in.Round + 1
	challenger := model.Idea{
		ID:           model.IdeaID(in.Tournament.ID, lane, generation),
		TournamentID: in.Tournament.ID,
		Lane:         lane,
		Generation:   generation,
		Round:        in.Round,
		ParentIdeaID: in.Champion.ID,
		Title:        draft.Title,
		Content:      draft.Content,
		CreatedAt:    e.now().UTC(),
	}

	var champEval, challEval Evaluation
	g, gctx := errgroup.WithContext(laneCtx)
	g.Go(func() error {
		var err error
		champEval, err = e.score(gctx, champion, in.Tournament)
		return err
	})
	g.Go(func() error {
		var err error
		challEval, err = e.score(gctx, challenger, in.Tournament)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn(ctx, "lane stalled: scorer exhausted", logger.Error(err))
		return stalled(out, err)
	}

	champScore, err := scoring.Aggregate(champEval.Scores, in.Tournament.Goals, e.scale)
	if err != nil {
		return stalled(out, fmt.Errorf("aggregate champion: %w", err))
	}
	challScore, err := scoring.Aggregate(challEval.Scores, in.Tournament.Goals, e.scale)
	if err != nil {
		return stalled(out, fmt.Errorf("aggregate challenger: %w", err))
	}

	out.ChampionBefore.Scores = copyScores(champEval.Scores)
	out.ChampionBefore.OverallScore = champScore

	challenger.Scores = copyScores(challEval.Scores)
	challenger.OverallScore = challScore

	// Ties keep the incumbent.
	if challScore > champScore {
		delta := challScore - champScore
		challenger.IsChampion = true
		challenger.ScoreChange = &delta
		out.Winner = challenger
		out.Delta = delta
		out.Promoted = true
	} else {
		challenger.IsChampion = false
		out.Winner = out.ChampionBefore
		out.Winner.IsChampion = true
		out.Delta = 0
	}
	out.Challenger = challenger
	out.Reviews = reviewsFor(challenger, challEval.Reviews, e.now().UTC())

	log.Debug(ctx, "lane evolved",
		logger.Float64("champion_score", champScore),
		logger.Float64("challenger_score", challScore),
		logger.Bool("promoted", out.Promoted),
	)
	return out
}

// Seed drafts and scores the first champion of a lane.
func (e *Engine) Seed(ctx context.Context, t model.Tournament, lane int) (model.Idea, []model.Review, error) {
	laneCtx, cancel := context.WithTimeout(ctx, e.laneTimeout)
	defer cancel()

	draft, err := e.propose(laneCtx, nil, t)
	if err != nil {
		return model.Idea{}, nil, fmt.Errorf("seed lane %d: %w", lane, err)
	}
	seed := model.Idea{
		ID:           model.IdeaID(t.ID, lane, 1),
		TournamentID: t.ID,
		Lane:         lane,
		Generation:   1,
		Round:        0,
		IsChampion:   true,
		Title:        draft.Title,
		Content:      draft.Content,
		CreatedAt:    e.now().UTC(),
	}
	eval, err := e.score(laneCtx, seed, t)
	if err != nil {
		return model.Idea{}, nil, fmt.Errorf("score seed lane %d: %w", lane, err)
	}
	overall, err := scoring.Aggregate(eval.Scores, t.Goals, e.scale)
	if err != nil {
		return model.Idea{}, nil, fmt.Errorf("aggregate seed lane %d: %w", lane, err)
	}
	seed.Scores = copyScores(eval.Scores)
	seed.OverallScore = overall
	return seed, reviewsFor(seed, eval.Reviews, e.now().UTC()), nil
}

func (e *Engine) propose(ctx context.Context, champion *model.Idea, t model.Tournament) (model.Idea, error) {
	var draft model.Idea
	err := e.retry(ctx, callPropose, func(ctx context.Context) error {
		d, err := e.proposer.Propose(ctx, champion, t)
		if err != nil {
			return err
		}
		if d.Title == "" && d.Content == "" {
			return errors.New("proposer returned an empty idea")
		}
		draft = d
		return nil
	})
	return draft, err
}

func (e *Engine) score(ctx context.Context, idea model.Idea, t model.Tournament) (Evaluation, error) {
	var eval Evaluation
	err := e.retry(ctx, callScore, func(ctx context.Context) error {
		ev, err := e.scorer.Score(ctx, idea, t)
		if err != nil {
			return err
		}
		if len(ev.Scores) == 0 {
			return backoff.Permanent(scoring.ErrNoScores)
		}
		eval = ev
		return nil
	})
	return eval, err
}

// retry runs op under the rate limiter with bounded exponential backoff.
func (e *Engine) retry(ctx context.Context, call string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = e.maxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			metrics.RecordExternalRetry(call)
		}
		attempt++
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		err := op(ctx)
		metrics.RecordExternalCall(call, float64(time.Since(start).Milliseconds()), err)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.retries)), ctx))
}

func stalled(out Outcome, err error) Outcome {
	out.Stalled = true
	out.Err = err
	return out
}

func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func reviewsFor(idea model.Idea, in []model.Review, now time.Time) []model.Review {
	out := make([]model.Review, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		if r.EvaluatorID == "" {
			continue
		}
		if _, dup := seen[r.EvaluatorID]; dup {
			continue
		}
		seen[r.EvaluatorID] = struct{}{}
		r = r.Clone()
		r.IdeaID = idea.ID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		out = append(out, r)
	}
	return out
}
