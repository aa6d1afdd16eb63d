package scoring

import "errors"

// Sentinel errors for score aggregation.
var (
	ErrNoScores     = errors.New("no criterion scores")
	ErrInvalidScore = errors.New("invalid criterion score")
	ErrInvalidScale = errors.New("invalid score scale")
	ErrNoWeight     = errors.New("every criterion has zero weight")
)
