package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflicting write")
	ErrDuplicateRound = errors.New("round already committed")
	ErrDuplicateIdea  = errors.New("idea already exists")
	ErrInvalidCommit  = errors.New("invalid round commit")
	ErrClosed         = errors.New("store closed")
)
