package tournament

import "errors"

// Sentinel error kinds for lifecycle transitions. These allow errors.Is from callers.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTerminalState     = errors.New("terminal state violation")
	ErrInvalidParams     = errors.New("invalid tournament parameters")
	ErrNotFound          = errors.New("tournament not found")
	ErrCancelled         = errors.New("tournament cancelled")
)
