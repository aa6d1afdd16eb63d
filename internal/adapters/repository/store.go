// Package repository defines the persistence contract for tournaments and its implementations.
package repository

import (
	"context"

	"github.com/okian/tourney/internal/domain/model"
)

// RoundCommit is everything one round writes. It is applied atomically.
type RoundCommit struct {
	// Tournament is the state after the round; CurrentRound equals Summary.Round.
	Tournament model.Tournament
	Summary    model.RoundSummary
	// Ideas are the new challengers produced by the round, winners or not.
	Ideas   []model.Idea
	Reviews []model.Review
	// Champions maps lane to the champion idea id after the round.
	Champions map[int]string
}

// Store provides read/write access to tournament state.
type Store interface {
	// CreateTournament stores a new tournament with its seed champions and
	// their reviews. Returns ErrConflict if the id is taken.
	CreateTournament(ctx context.Context, t model.Tournament, seeds []model.Idea, reviews []model.Review) error

	// Tournament returns ErrNotFound if the id is unknown.
	Tournament(ctx context.Context, id string) (model.Tournament, error)

	// Tournaments lists every stored tournament ordered by id.
	Tournaments(ctx context.Context) ([]model.Tournament, error)

	// UpdateTournament replaces tournament state outside a round, e.g. on cancel.
	UpdateTournament(ctx context.Context, t model.Tournament) error

	// CommitRound applies c atomically. Returns ErrDuplicateRound when the
	// round is already stored and ErrConflict when it is not the next one.
	CommitRound(ctx context.Context, c RoundCommit) error

	// Round returns one persisted round summary.
	Round(ctx context.Context, tournamentID string, round int) (model.RoundSummary, error)

	// Rounds returns persisted summaries with Round >= from, in order.
	Rounds(ctx context.Context, tournamentID string, from int) ([]model.RoundSummary, error)

	// Idea returns an idea with IsChampion derived from the current lane champion.
	Idea(ctx context.Context, id string) (model.Idea, error)

	// Review returns one evaluator's review of an idea.
	Review(ctx context.Context, ideaID, evaluatorID string) (model.Review, error)

	// Reviews returns every review of an idea ordered by evaluator.
	Reviews(ctx context.Context, ideaID string) ([]model.Review, error)

	// Champions returns the current champion of each lane ordered by lane.
	Champions(ctx context.Context, tournamentID string) ([]model.Idea, error)

	Close() error
}
