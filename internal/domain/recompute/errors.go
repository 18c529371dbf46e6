package recompute

import "errors"

// Sentinel kinds for recompute errors.
var (
	ErrSchedulingFailure = errors.New("recompute scheduling failure")
	ErrInvalidTrigger    = errors.New("invalid recompute trigger")
)
