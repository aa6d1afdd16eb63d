// Package types contains read shapes shared by the service and the API.
package types

import (
	"sort"

	"github.com/okian/tourney/internal/domain/model"
)

// Entry is one lane's champion on the tournament standings.
type Entry struct {
	Rank       int     `json:"rank"`
	Lane       int     `json:"lane"`
	IdeaID     string  `json:"idea_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Generation int     `json:"generation"`
}

// Standings ranks lane champions by score, best first. Equal scores share
// a rank and keep lane order.
func Standings(champions []model.Idea) []Entry {
	out := make([]Entry, 0, len(champions))
	for _, c := range champions {
		out = append(out, Entry{
			Lane:       c.Lane,
			IdeaID:     c.ID,
			Title:      c.Title,
			Score:      c.OverallScore,
			Generation: c.Generation,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Lane < out[j].Lane
	})
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out
}
