package model

import "time"

// Idea is one candidate in a lane. Persisted ideas are never edited.
type Idea struct {
	ID           string `json:"id"`
	TournamentID string `json:"tournament_id"`
	Lane         int    `json:"lane"`
	Generation   int    `json:"generation"`
	Round        int    `json:"round"`
	// IsChampion is true only for the current winner of the lane. Stores
	// derive it from the lane's champion pointer on read.
	IsChampion   bool               `json:"is_champion"`
	ParentIdeaID string             `json:"parent_idea_id,omitempty"`
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	OverallScore float64            `json:"overall_score"`
	// ScoreChange is set only on ideas that won their round.
	ScoreChange *float64  `json:"score_change,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (i Idea) Clone() Idea {
	out := i
	if i.Scores != nil {
		out.Scores = make(map[string]float64, len(i.Scores))
		for k, v := range i.Scores {
			out.Scores[k] = v
		}
	}
	if i.ScoreChange != nil {
		v := *i.ScoreChange
		out.ScoreChange = &v
	}
	return out
}

// Review is one evaluator's assessment of an idea, keyed by (IdeaID, EvaluatorID).
type Review struct {
	IdeaID      string             `json:"idea_id"`
	EvaluatorID string             `json:"evaluator_id"`
	Strengths   string             `json:"strengths"`
	Weaknesses  string             `json:"weaknesses"`
	Score       float64            `json:"score"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Clone returns a deep copy.
func (r Review) Clone() Review {
	out := r
	if r.Metrics != nil {
		out.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}
