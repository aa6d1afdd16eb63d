// Package simulated provides a Proposer and a Scorer that stand in for the
// external model service. Scores are a pure function of the idea, so a
// champion re-scored in a later round gets the same score again; latency
// and injected failures come from a seeded generator.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/scoring"
)

// Default simulator configuration.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42

	// generationLift nudges later generations upward so tournaments show progress.
	generationLift = 0.15
)

// ErrSimulatedFailure is returned for injected failures.
var ErrSimulatedFailure = errors.New("simulated external failure")

var defaultCriteria = []string{"efficacy", "safety", "feasibility", "novelty"}

var angles = []string{
	"mechanism of action",
	"dosing strategy",
	"patient stratification",
	"combination therapy",
	"biomarker selection",
	"delivery route",
	"trial design",
}

type sim struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	seed        int64
	failureRate float64
	scale       scoring.Scale
	criteria    []string

	mu  sync.Mutex
	rng *rand.Rand
}

func newSim(opts []Option) *sim {
	s := &sim{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		seed:       defaultRandomSeed,
		scale:      scoring.DefaultScale(),
		criteria:   defaultCriteria,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewSource(s.seed)) //nolint:gosec // deterministic seed for reproducible runs
	return s
}

// call waits the simulated latency and decides whether the call fails.
func (s *sim) call(ctx context.Context) error {
	s.mu.Lock()
	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rng.Int63n(int64(span)))
	}
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if fail {
		return ErrSimulatedFailure
	}
	return nil
}

// Proposer drafts ideas from templates.
type Proposer struct {
	s *sim
}

var _ lane.Proposer = (*Proposer)(nil)

// NewProposer creates a simulated proposer.
func NewProposer(opts ...Option) *Proposer {
	return &Proposer{s: newSim(opts)}
}

// Propose drafts a seed when champion is nil, otherwise a refinement of it.
func (p *Proposer) Propose(ctx context.Context, champion *model.Idea, t model.Tournament) (model.Idea, error) {
	if err := p.s.call(ctx); err != nil {
		return model.Idea{}, err
	}
	if champion == nil {
		angle := angles[hash(t.ID, t.Problem)%uint64(len(angles))]
		return model.Idea{
			Title:   fmt.Sprintf("Baseline: %s", angle),
			Content: fmt.Sprintf("Address %q by focusing on %s.", t.Problem, angle),
		}, nil
	}
	angle := angles[hash(champion.ID, champion.Content)%uint64(len(angles))]
	return model.Idea{
		Title:   fmt.Sprintf("%s + %s", champion.Title, angle),
		Content: fmt.Sprintf("%s Refine with attention to %s.", champion.Content, angle),
	}, nil
}

// Scorer scores each criterion from a hash of the idea.
type Scorer struct {
	s *sim
}

var _ lane.Scorer = (*Scorer)(nil)

// NewScorer creates a simulated scorer.
func NewScorer(opts ...Option) *Scorer {
	return &Scorer{s: newSim(opts)}
}

// Score evaluates idea on the tournament's goals, or on the default
// criteria when the tournament declares none.
func (sc *Scorer) Score(ctx context.Context, idea model.Idea, t model.Tournament) (lane.Evaluation, error) {
	if err := sc.s.call(ctx); err != nil {
		return lane.Evaluation{}, err
	}
	criteria := sc.s.criteria
	if len(t.Goals) > 0 {
		criteria = make([]string, 0, len(t.Goals))
		for _, g := range t.Goals {
			criteria = append(criteria, g.Name)
		}
	}

	scale := sc.s.scale
	eval := lane.Evaluation{
		Scores:  make(map[string]float64, len(criteria)),
		Reviews: make([]model.Review, 0, len(criteria)),
	}
	for _, c := range criteria {
		frac := float64(hash(idea.Title, idea.Content, c)%10_000) / 10_000
		v := scale.Min + frac*(scale.Max-scale.Min) + generationLift*float64(idea.Generation-1)
		v = scale.Clamp(v)
		eval.Scores[c] = v
		eval.Reviews = append(eval.Reviews, model.Review{
			EvaluatorID: c,
			Strengths:   strengths(c, v, scale),
			Weaknesses:  weaknesses(c, v, scale),
			Score:       v,
			Metrics:     map[string]float64{"confidence": 0.5 + frac/2},
		})
	}
	return eval, nil
}

func strengths(criterion string, v float64, scale scoring.Scale) string {
	if v >= scale.Min+0.6*(scale.Max-scale.Min) {
		return fmt.Sprintf("Strong %s profile.", criterion)
	}
	return fmt.Sprintf("Some support for %s.", criterion)
}

func weaknesses(criterion string, v float64, scale scoring.Scale) string {
	if v < scale.Min+0.4*(scale.Max-scale.Min) {
		return fmt.Sprintf("Limited evidence on %s.", criterion)
	}
	return ""
}

func hash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
