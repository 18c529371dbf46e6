package config

import "errors"

// Sentinel errors returned by Load and Validate.
var (
	ErrLoadConfig    = errors.New("load config failed")
	ErrInvalidConfig = errors.New("invalid config")

	// ErrWeightsSum is wrapped together with ErrInvalidConfig when
	// quality_weight and reliability_weight do not add up to 1.
	ErrWeightsSum = errors.New("quality_weight + reliability_weight must be 1")
)
