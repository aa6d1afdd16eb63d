package model

import "time"

// LaneEntry is one lane's result inside a round summary.
type LaneEntry struct {
	Lane int `json:"lane"`
	// ChampionIdeaID is the lane champion after the round.
	ChampionIdeaID string  `json:"champion_idea_id"`
	ChampionScore  float64 `json:"champion_score"`
	// PreviousChampionIdeaID is the champion the challenger competed against.
	PreviousChampionIdeaID string   `json:"previous_champion_idea_id"`
	ChallengerIdeaID       string   `json:"challenger_idea_id,omitempty"`
	ChallengerScore        *float64 `json:"challenger_score,omitempty"`
	Delta                  *float64 `json:"delta,omitempty"`
	Promoted               bool     `json:"promoted"`
}

// RoundSummary is the immutable record of one round across all lanes.
// Lanes that stalled have no entry and are listed in Stalled.
type RoundSummary struct {
	TournamentID string      `json:"tournament_id"`
	Round        int         `json:"round"`
	Lanes        []LaneEntry `json:"lanes"`
	Stalled      []int       `json:"stalled,omitempty"`
	// Status is the tournament status right after the round committed.
	Status    Status    `json:"status"`
	Final     bool      `json:"final"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (r RoundSummary) Clone() RoundSummary {
	out := r
	if r.Lanes != nil {
		out.Lanes = make([]LaneEntry, len(r.Lanes))
		for i, e := range r.Lanes {
			if e.ChallengerScore != nil {
				v := *e.ChallengerScore
				e.ChallengerScore = &v
			}
			if e.Delta != nil {
				v := *e.Delta
				e.Delta = &v
			}
			out.Lanes[i] = e
		}
	}
	if r.Stalled != nil {
		out.Stalled = append([]int(nil), r.Stalled...)
	}
	return out
}

// AllStalled reports whether no lane produced a result.
func (r RoundSummary) AllStalled() bool {
	return len(r.Lanes) == 0 && len(r.Stalled) > 0
}

// EventType discriminates stream events.
type EventType string

// Stream event kinds.
const (
	// EventConnected is the first event of every subscription.
	EventConnected EventType = "connected"
	// EventRound carries a committed round summary.
	EventRound EventType = "round"
	// EventFinal announces a terminal tournament; the stream ends after it.
	EventFinal EventType = "final"
	// EventResubscribe means the subscriber fell behind and was dropped.
	EventResubscribe EventType = "resubscribe"
)

// Event is what subscribers receive.
type Event struct {
	Type         EventType     `json:"type"`
	TournamentID string        `json:"tournament_id"`
	Round        *RoundSummary `json:"round,omitempty"`
	Status       Status        `json:"status,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// RoundEvent wraps a summary.
func RoundEvent(s RoundSummary) Event {
	c := s.Clone()
	return Event{Type: EventRound, TournamentID: s.TournamentID, Round: &c, Status: s.Status}
}

// FinalEvent announces a terminal tournament.
func FinalEvent(t Tournament) Event {
	return Event{Type: EventFinal, TournamentID: t.ID, Status: t.Status, Reason: t.FailureReason}
}
