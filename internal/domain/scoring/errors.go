package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrInvalidWeights = errors.New("quality and reliability weights must sum to 1")
	ErrInvalidParams  = errors.New("invalid scoring parameters")
)
