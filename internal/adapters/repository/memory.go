package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

// MemoryStore keeps everything in maps behind one RWMutex. Values are
// cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	log         logger.Logger
	closed      bool
	tournaments map[string]model.Tournament
	rounds      map[string][]model.RoundSummary // index = round-1
	ideas       map[string]model.Idea
	reviews     map[string]map[string]model.Review
	champions   map[string]map[int]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. Only WithLogger applies;
// the badger options are ignored.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		log:         o.logger.Named("memory"),
		tournaments: make(map[string]model.Tournament),
		rounds:      make(map[string][]model.RoundSummary),
		ideas:       make(map[string]model.Idea),
		reviews:     make(map[string]map[string]model.Review),
		champions:   make(map[string]map[int]string),
	}
}

// CreateTournament stores t with its seeds.
func (s *MemoryStore) CreateTournament(_ context.Context, t model.Tournament, seeds []model.Idea, reviews []model.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tournaments[t.ID]; ok {
		return fmt.Errorf("%w: tournament %s exists", ErrConflict, t.ID)
	}
	for _, seed := range seeds {
		if _, ok := s.ideas[seed.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIdea, seed.ID)
		}
	}

	s.tournaments[t.ID] = t.Clone()
	champs := make(map[int]string, len(seeds))
	for _, seed := range seeds {
		s.ideas[seed.ID] = seed.Clone()
		champs[seed.Lane] = seed.ID
	}
	s.champions[t.ID] = champs
	s.putReviews(reviews)
	return nil
}

// Tournament returns a copy of the stored tournament.
func (s *MemoryStore) Tournament(_ context.Context, id string) (model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tournaments[id]
	if !ok {
		return model.Tournament{}, fmt.Errorf("%w: tournament %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// Tournaments lists tournaments by id.
func (s *MemoryStore) Tournaments(_ context.Context) ([]model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Tournament, 0, len(s.tournaments))
	for _, t := range s.tournaments {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateTournament replaces the tournament record.
func (s *MemoryStore) UpdateTournament(_ context.Context, t model.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tournaments[t.ID]; !ok {
		return fmt.Errorf("%w: tournament %s", ErrNotFound, t.ID)
	}
	s.tournaments[t.ID] = t.Clone()
	return nil
}

// CommitRound applies c under the write lock.
func (s *MemoryStore) CommitRound(_ context.Context, c RoundCommit) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreCommitLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := validateCommit(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := c.Tournament.ID
	stored, ok := s.tournaments[id]
	if !ok {
		return fmt.Errorf("%w: tournament %s", ErrNotFound, id)
	}
	if err := checkNext(stored, c.Summary.Round); err != nil {
		return err
	}
	for _, idea := range c.Ideas {
		if _, ok := s.ideas[idea.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIdea, idea.ID)
		}
	}

	s.tournaments[id] = c.Tournament.Clone()
	s.rounds[id] = append(s.rounds[id], c.Summary.Clone())
	for _, idea := range c.Ideas {
		s.ideas[idea.ID] = idea.Clone()
	}
	s.putReviews(c.Reviews)
	champs := s.champions[id]
	if champs == nil {
		champs = make(map[int]string, len(c.Champions))
		s.champions[id] = champs
	}
	for lane, ideaID := range c.Champions {
		champs[lane] = ideaID
	}
	s.log.Debug(context.Background(), "round committed",
		logger.String("tournament_id", id),
		logger.Int("round", c.Summary.Round),
		logger.Int("ideas", len(c.Ideas)),
	)
	return nil
}

// Round returns one summary.
func (s *MemoryStore) Round(_ context.Context, tournamentID string, round int) (model.RoundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rounds := s.rounds[tournamentID]
	if round < 1 || round > len(rounds) {
		return model.RoundSummary{}, fmt.Errorf("%w: tournament %s round %d", ErrNotFound, tournamentID, round)
	}
	return rounds[round-1].Clone(), nil
}

// Rounds returns summaries from round from onwards.
func (s *MemoryStore) Rounds(_ context.Context, tournamentID string, from int) ([]model.RoundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tournaments[tournamentID]; !ok {
		return nil, fmt.Errorf("%w: tournament %s", ErrNotFound, tournamentID)
	}
	if from < 1 {
		from = 1
	}
	rounds := s.rounds[tournamentID]
	out := make([]model.RoundSummary, 0, len(rounds))
	for i := from - 1; i < len(rounds); i++ {
		out = append(out, rounds[i].Clone())
	}
	return out, nil
}

// Idea returns an idea with its champion flag derived.
func (s *MemoryStore) Idea(_ context.Context, id string) (model.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idea, ok := s.ideas[id]
	if !ok {
		return model.Idea{}, fmt.Errorf("%w: idea %s", ErrNotFound, id)
	}
	return withChampion(idea, s.champions[idea.TournamentID][idea.Lane]), nil
}

// Review returns one review.
func (s *MemoryStore) Review(_ context.Context, ideaID, evaluatorID string) (model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[ideaID][evaluatorID]
	if !ok {
		return model.Review{}, fmt.Errorf("%w: review %s/%s", ErrNotFound, ideaID, evaluatorID)
	}
	return r.Clone(), nil
}

// Reviews returns an idea's reviews by evaluator.
func (s *MemoryStore) Reviews(_ context.Context, ideaID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ideas[ideaID]; !ok {
		return nil, fmt.Errorf("%w: idea %s", ErrNotFound, ideaID)
	}
	byEval := s.reviews[ideaID]
	out := make([]model.Review, 0, len(byEval))
	for _, r := range byEval {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatorID < out[j].EvaluatorID })
	return out, nil
}

// Champions returns the lane champions.
func (s *MemoryStore) Champions(_ context.Context, tournamentID string) ([]model.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tournaments[tournamentID]
	if !ok {
		return nil, fmt.Errorf("%w: tournament %s", ErrNotFound, tournamentID)
	}
	champs := s.champions[tournamentID]
	out := make([]model.Idea, 0, t.Lanes)
	for lane := 0; lane < t.Lanes; lane++ {
		id, ok := champs[lane]
		if !ok {
			continue
		}
		out = append(out, withChampion(s.ideas[id], id))
	}
	return out, nil
}

// Close marks the store closed for writes.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.log.Debug(context.Background(), "memory store closed", logger.Int("tournaments", len(s.tournaments)))
	}
	s.closed = true
	return nil
}

// putReviews stores reviews; a review already present for (idea, evaluator) is kept.
func (s *MemoryStore) putReviews(reviews []model.Review) {
	for _, r := range reviews {
		byEval := s.reviews[r.IdeaID]
		if byEval == nil {
			byEval = make(map[string]model.Review)
			s.reviews[r.IdeaID] = byEval
		}
		if _, ok := byEval[r.EvaluatorID]; ok {
			continue
		}
		byEval[r.EvaluatorID] = r.Clone()
	}
}
