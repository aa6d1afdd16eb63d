// Package tournament owns the tournament lifecycle:
//
//	in_progress --AdvanceRound--> in_progress (CurrentRound+1, up to MaxRounds)
//	in_progress --Complete-------> completed   (MaxRounds reached or lanes stalled StallLimit rounds in a row)
//	in_progress --Fail-----------> failed
//
// completed and failed are terminal. Every transition works on the value it
// is given; callers pass a copy when they need the old state to survive a
// rejected transition.
package tournament

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okian/tourney/internal/domain/model"
)

// DefaultStallLimit is the number of consecutive all-stalled rounds that ends a tournament.
const DefaultStallLimit = 2

// Params describes a tournament to create.
type Params struct {
	ID         string       `validate:"omitempty,max=128,excludesall=/"`
	Problem    string       `validate:"required,max=20000"`
	Goals      []model.Goal `validate:"dive"`
	Lanes      int          `validate:"gte=1,lte=64"`
	MaxRounds  int          `validate:"gte=1,lte=1000"`
	StallLimit int          `validate:"gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// New validates params and returns an in_progress tournament at round 0.
func New(p Params, now time.Time) (model.Tournament, error) {
	p.Problem = strings.TrimSpace(p.Problem)
	if err := validatorInstance().Struct(p); err != nil {
		return model.Tournament{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	seen := make(map[string]struct{}, len(p.Goals))
	var weight float64
	for _, g := range p.Goals {
		if _, dup := seen[g.Name]; dup {
			return model.Tournament{}, fmt.Errorf("%w: duplicate goal %q", ErrInvalidParams, g.Name)
		}
		seen[g.Name] = struct{}{}
		weight += g.Weight
	}
	// Goals that all weigh zero would leave nothing to score against.
	if len(p.Goals) > 0 && weight == 0 {
		return model.Tournament{}, fmt.Errorf("%w: at least one goal must have positive weight", ErrInvalidParams)
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	stall := p.StallLimit
	if stall == 0 {
		stall = DefaultStallLimit
	}

	return model.Tournament{
		ID:           id,
		Problem:      p.Problem,
		Goals:        append([]model.Goal(nil), p.Goals...),
		Lanes:        p.Lanes,
		MaxRounds:    p.MaxRounds,
		StallLimit:   stall,
		CurrentRound: 0,
		Status:       model.StatusInProgress,
		CreatedAt:    now.UTC(),
	}, nil
}

// AdvanceRound increments CurrentRound.
func AdvanceRound(t *model.Tournament) error {
	if t.Status.Terminal() {
		return terminal(t, "advance")
	}
	if t.Status != model.StatusInProgress || t.CurrentRound >= t.MaxRounds {
		return fmt.Errorf("%w: tournament %s cannot advance past round %d of %d",
			ErrInvalidTransition, t.ID, t.CurrentRound, t.MaxRounds)
	}
	t.CurrentRound++
	return nil
}

// ShouldComplete reports whether the completion condition holds.
func ShouldComplete(t model.Tournament) bool {
	if t.Status != model.StatusInProgress {
		return false
	}
	if t.CurrentRound >= t.MaxRounds {
		return true
	}
	return t.StallLimit > 0 && t.StalledRounds >= t.StallLimit
}

// Complete marks the tournament completed.
func Complete(t *model.Tournament, now time.Time) error {
	if t.Status.Terminal() {
		return terminal(t, "complete")
	}
	if !ShouldComplete(*t) {
		return fmt.Errorf("%w: tournament %s is at round %d of %d with %d stalled rounds",
			ErrInvalidTransition, t.ID, t.CurrentRound, t.MaxRounds, t.StalledRounds)
	}
	t.Status = model.StatusCompleted
	at := now.UTC()
	t.CompletedAt = &at
	return nil
}

// Fail marks the tournament failed with reason.
func Fail(t *model.Tournament, now time.Time, reason string) error {
	if t.Status.Terminal() {
		return terminal(t, "fail")
	}
	t.Status = model.StatusFailed
	t.FailureReason = reason
	at := now.UTC()
	t.CompletedAt = &at
	return nil
}

// RecordStalls updates the consecutive all-stalled round counter.
func RecordStalls(t *model.Tournament, allStalled bool) {
	if allStalled {
		t.StalledRounds++
		return
	}
	t.StalledRounds = 0
}

func terminal(t *model.Tournament, op string) error {
	return fmt.Errorf("%w: cannot %s tournament %s in status %s", ErrTerminalState, op, t.ID, t.Status)
}
