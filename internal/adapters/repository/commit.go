package repository

import (
	"fmt"

	"github.com/okian/tourney/internal/domain/model"
)

// Key layout shared by the stores. Round and lane numbers are zero padded
// so lexical order is numeric order.
func tournamentKey(id string) string { return "t/" + id }

func roundPrefix(id string) string { return "r/" + id + "/" }

func roundKey(id string, n int) string { return fmt.Sprintf("r/%s/%08d", id, n) }

func ideaKey(id string) string { return "i/" + id }

func reviewPrefix(ideaID string) string { return "v/" + ideaID + "/" }

func reviewKey(ideaID, evaluator string) string { return reviewPrefix(ideaID) + evaluator }

func championPrefix(id string) string { return "c/" + id + "/" }

func championKey(id string, lane int) string { return fmt.Sprintf("c/%s/%04d", id, lane) }

// validateCommit checks the commit is internally consistent. Checks
// against stored state are done by each store inside its write.
func validateCommit(c RoundCommit) error {
	t := c.Tournament
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: missing tournament id", ErrInvalidCommit)
	case c.Summary.TournamentID != t.ID:
		return fmt.Errorf("%w: summary belongs to %q, not %q", ErrInvalidCommit, c.Summary.TournamentID, t.ID)
	case c.Summary.Round < 1:
		return fmt.Errorf("%w: round %d", ErrInvalidCommit, c.Summary.Round)
	case t.CurrentRound != c.Summary.Round:
		return fmt.Errorf("%w: tournament at round %d, summary is round %d", ErrInvalidCommit, t.CurrentRound, c.Summary.Round)
	}
	ids := make(map[string]struct{}, len(c.Ideas))
	for _, idea := range c.Ideas {
		if idea.TournamentID != t.ID {
			return fmt.Errorf("%w: idea %s belongs to %q", ErrInvalidCommit, idea.ID, idea.TournamentID)
		}
		if _, dup := ids[idea.ID]; dup {
			return fmt.Errorf("%w: idea %s repeated", ErrDuplicateIdea, idea.ID)
		}
		ids[idea.ID] = struct{}{}
	}
	for lane := range c.Champions {
		if lane < 0 || lane >= t.Lanes {
			return fmt.Errorf("%w: champion for lane %d of %d", ErrInvalidCommit, lane, t.Lanes)
		}
	}
	return nil
}

// checkNext verifies round is the next one after the stored state.
func checkNext(stored model.Tournament, round int) error {
	if stored.Status.Terminal() {
		return fmt.Errorf("%w: tournament %s is %s", ErrConflict, stored.ID, stored.Status)
	}
	if stored.CurrentRound >= round {
		return fmt.Errorf("%w: tournament %s round %d", ErrDuplicateRound, stored.ID, round)
	}
	if stored.CurrentRound+1 != round {
		return fmt.Errorf("%w: tournament %s at round %d, got round %d", ErrConflict, stored.ID, stored.CurrentRound, round)
	}
	return nil
}

func withChampion(idea model.Idea, championID string) model.Idea {
	out := idea.Clone()
	out.IsChampion = championID != "" && championID == idea.ID
	return out
}
