package model

import "errors"

// Sentinel kinds for domain model errors.
var (
	// ErrInvalidEventData marks an event row that fails validation. Aggregation
	// skips such rows instead of aborting the lawyer's recompute.
	ErrInvalidEventData = errors.New("invalid event data")
)
