package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted        = errors.New("service not started")
	ErrRequestInProgress = errors.New("request still in progress")
	ErrUnknownDriver     = errors.New("unknown driver")
)
