package round

import "errors"

// Sentinel kinds for coordinator errors.
var (
	ErrCommitFailed  = errors.New("round commit failed")
	ErrCorruptState  = errors.New("inconsistent tournament state")
	ErrSeedingFailed = errors.New("seeding failed")
)
