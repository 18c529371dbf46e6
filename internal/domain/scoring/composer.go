package scoring

import (
	"math"

	"github.com/okian/repute/internal/domain/model"
)

const (
	minScore = 0
	maxScore = 100

	// scores are persisted as decimals with this many fractional digits
	scorePrecision = 1e4
)

// Tier thresholds, evaluated top-down after the review threshold.
const (
	platinumFloor = 90
	goldFloor     = 75
	silverFloor   = 60
	bronzeFloor   = 40
)

// Composition is the breakdown of one composed score.
type Composition struct {
	Quality             Signal
	Reliability         Signal
	WeightedQuality     float64
	WeightedReliability float64
	Deduction           float64
	RatingScore         float64
	Tier                model.Tier
	TotalReviews        int
	TotalInteractions   int
}

// Compose combines the three signals into a rating score and tier.
func (p Params) Compose(quality, reliability Signal, deduction float64) Composition {
	c := Composition{
		Quality:             quality,
		Reliability:         reliability,
		WeightedQuality:     Weighted(quality, p.PriorMean, p.ConfidenceK),
		WeightedReliability: Weighted(reliability, p.PriorMean, p.ConfidenceK),
		Deduction:           deduction,
		TotalReviews:        quality.N,
		TotalInteractions:   quality.N + reliability.N,
	}
	base := p.PriorMean
	if quality.Defined() || reliability.Defined() {
		base = p.QualityWeight*c.WeightedQuality + p.ReliabilityWeight*c.WeightedReliability
	}
	c.RatingScore = round(clamp(base - deduction))
	c.Tier = p.ClassifyTier(c.RatingScore, c.TotalReviews)
	return c
}

// ClassifyTier maps a score and eligible review count to a tier. First match wins.
func (p Params) ClassifyTier(score float64, totalReviews int) model.Tier {
	switch {
	case totalReviews < p.MinReviewThreshold:
		return model.TierWait
	case score >= platinumFloor:
		return model.TierPlatinum
	case score >= goldFloor:
		return model.TierGold
	case score >= silverFloor:
		return model.TierSilver
	case score >= bronzeFloor:
		return model.TierBronze
	default:
		return model.TierWait
	}
}

func clamp(x float64) float64 {
	return math.Max(minScore, math.Min(maxScore, x))
}

func round(x float64) float64 {
	return math.Round(x*scorePrecision) / scorePrecision
}
