package driver

import (
	"errors"
	"fmt"

	"github.com/okian/tourney/internal/domain/model"
)

// ErrHistory marks a tournament whose recorded rounds are inconsistent.
var ErrHistory = errors.New("inconsistent history")

// verifyHistory checks a terminal tournament against its rounds: numbered
// 1..n without gaps, every lane accounted for once per round, only the
// last round final, and n equal to the tournament's current round.
func verifyHistory(t model.Tournament, rounds []model.RoundSummary) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("%w: %s is still %s", ErrHistory, t.ID, t.Status)
	}
	if len(rounds) != t.CurrentRound {
		return fmt.Errorf("%w: %d rounds recorded, current round is %d", ErrHistory, len(rounds), t.CurrentRound)
	}
	for i, r := range rounds {
		if r.Round != i+1 {
			return fmt.Errorf("%w: round %d found at position %d", ErrHistory, r.Round, i+1)
		}
		seen := make(map[int]bool, t.Lanes)
		for _, e := range r.Lanes {
			seen[e.Lane] = true
		}
		for _, l := range r.Stalled {
			if seen[l] {
				return fmt.Errorf("%w: round %d lane %d both committed and stalled", ErrHistory, r.Round, l)
			}
			seen[l] = true
		}
		if len(seen) != t.Lanes || len(r.Lanes)+len(r.Stalled) != t.Lanes {
			return fmt.Errorf("%w: round %d covers %d of %d lanes", ErrHistory, r.Round, len(seen), t.Lanes)
		}
		if r.Final != (i == len(rounds)-1) && t.Status == model.StatusCompleted {
			return fmt.Errorf("%w: round %d final=%t", ErrHistory, r.Round, r.Final)
		}
	}
	return nil
}
