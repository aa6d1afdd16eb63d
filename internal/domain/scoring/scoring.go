// Package scoring reduces multi-criteria evaluations to one comparable score.
//
// The reduction is a weighted mean (MCDA): criteria named after a tournament
// goal take that goal's weight, the remaining weight is split evenly across
// criteria without a goal, and the result is clamped to the scale.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/tourney/internal/domain/model"
)

// Default scale bounds.
const (
	DefaultMin = 1.0
	DefaultMax = 5.0
)

// Scale is the closed score interval shared by criteria and the result.
type Scale struct {
	Min float64
	Max float64
}

// DefaultScale is the 1..5 scale.
func DefaultScale() Scale {
	return Scale{Min: DefaultMin, Max: DefaultMax}
}

// Validate checks the scale bounds.
func (s Scale) Validate() error {
	if math.IsNaN(s.Min) || math.IsNaN(s.Max) || s.Min >= s.Max {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidScale, s.Min, s.Max)
	}
	return nil
}

// Clamp bounds v to the scale.
func (s Scale) Clamp(v float64) float64 {
	return math.Max(s.Min, math.Min(s.Max, v))
}

// Weights resolves the effective weight of every criterion in scores.
func Weights(criteria []string, goals []model.Goal) map[string]float64 {
	declared := make(map[string]float64, len(goals))
	for _, g := range goals {
		declared[g.Name] = clampWeight(g.Weight)
	}

	out := make(map[string]float64, len(criteria))
	var used float64
	var unmatched []string
	for _, c := range criteria {
		if w, ok := declared[c]; ok {
			out[c] = w
			used += w
			continue
		}
		unmatched = append(unmatched, c)
	}

	if len(unmatched) > 0 {
		share := 0.0
		if remaining := 1 - used; remaining > 0 {
			share = remaining / float64(len(unmatched))
		}
		for _, c := range unmatched {
			out[c] = share
		}
	}
	return out
}

// Aggregate returns Σ(w·s)/Σw over scores, clamped to scale. It fails with
// ErrNoWeight when every weight resolves to zero.
func Aggregate(scores map[string]float64, goals []model.Goal, scale Scale) (float64, error) {
	if err := scale.Validate(); err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		return 0, ErrNoScores
	}

	criteria := make([]string, 0, len(scores))
	for name, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %s=%v", ErrInvalidScore, name, v)
		}
		criteria = append(criteria, name)
	}
	// Fixed summation order keeps results bit-for-bit reproducible.
	sort.Strings(criteria)

	weights := Weights(criteria, goals)

	var num, den float64
	for _, c := range criteria {
		s := scale.Clamp(scores[c])
		num += weights[c] * s
		den += weights[c]
	}

	// Zero-weight criteria never count, so there is nothing to average.
	if den == 0 {
		return 0, fmt.Errorf("%w: %v", ErrNoWeight, criteria)
	}
	return scale.Clamp(num / den), nil
}

func clampWeight(w float64) float64 {
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
