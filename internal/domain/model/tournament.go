// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a tournament.
type Status string

// Tournament states. in_progress is the only non-terminal state.
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Goal is a weighted strategic objective. Weights need not sum to 1.
type Goal struct {
	Name   string  `json:"name" validate:"required"`
	Weight float64 `json:"weight" validate:"gte=0,lte=1"`
}

// Tournament is the root aggregate of one evolutionary run.
type Tournament struct {
	ID string `json:"id"`
	// Problem is the drug/indication statement; opaque to the engine.
	Problem       string     `json:"problem"`
	Goals         []Goal     `json:"goals"`
	Lanes         int        `json:"lanes"`
	MaxRounds     int        `json:"max_rounds"`
	StallLimit    int        `json:"stall_limit"`
	CurrentRound  int        `json:"current_round"`
	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	// StalledRounds counts consecutive rounds in which every lane stalled.
	StalledRounds int        `json:"stalled_rounds"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (t Tournament) Clone() Tournament {
	out := t
	if t.Goals != nil {
		out.Goals = append([]Goal(nil), t.Goals...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

// RoundJob asks the driver to run one round of a tournament.
type RoundJob struct {
	TournamentID string
	Round        int
	Attempt      int
}

// IdeaID builds the identifier of the idea produced in a lane at a given
// generation. Generation 1 is the seed.
func IdeaID(tournamentID string, lane, generation int) string {
	return fmt.Sprintf("%s-L%d-v%d", tournamentID, lane, generation)
}
