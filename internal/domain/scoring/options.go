package scoring

import (
	"time"

	"github.com/okian/repute/internal/domain/dedupe"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithPriorMean sets the neutral baseline small samples shrink toward.
func WithPriorMean(p float64) Option {
	return func(e *Engine) { e.params.PriorMean = p }
}

// WithConfidenceK sets the lawyer-level confidence constant.
func WithConfidenceK(k float64) Option {
	return func(e *Engine) { e.params.ConfidenceK = k }
}

// WithSpecializationK sets the confidence constant for per-area scores.
func WithSpecializationK(k float64) Option {
	return func(e *Engine) { e.params.SpecializationK = k }
}

// WithWeights sets the quality and reliability weights. They must sum to 1.
func WithWeights(quality, reliability float64) Option {
	return func(e *Engine) {
		e.params.QualityWeight = quality
		e.params.ReliabilityWeight = reliability
	}
}

// WithMinReviewThreshold sets the eligible review count below which the tier is Wait.
func WithMinReviewThreshold(n int) Option {
	return func(e *Engine) { e.params.MinReviewThreshold = n }
}

// WithDedupeWindow sets the anti-gaming window.
func WithDedupeWindow(window time.Duration) Option {
	return func(e *Engine) { e.filter = dedupe.NewFilter(dedupe.WithWindow(window)) }
}

// WithParams replaces all numeric parameters at once.
func WithParams(p Params) Option {
	return func(e *Engine) { e.params = p }
}
