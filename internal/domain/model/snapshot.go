package model

import "time"

// Tier is the discrete reputation bucket.
type Tier string

// Tiers from lowest to highest. Wait also covers lawyers below the review threshold.
const (
	TierWait     Tier = "Wait"
	TierBronze   Tier = "Bronze"
	TierSilver   Tier = "Silver"
	TierGold     Tier = "Gold"
	TierPlatinum Tier = "Platinum"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierWait, TierBronze, TierSilver, TierGold, TierPlatinum}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

// Snapshot is the materialized reputation of a lawyer. It is a cache that
// can always be rebuilt from the event store.
type Snapshot struct {
	LawyerID          LawyerID  `json:"lawyer_id"`
	RatingScore       float64   `json:"rating_score"`
	Tier              Tier      `json:"tier"`
	TotalReviews      int       `json:"total_reviews"`
	TotalInteractions int       `json:"total_interactions"`
	UpdatedAt         time.Time `json:"updated_at"` // newest contributing event
}

// SpecializationScore is the quality score of a lawyer within one practice area.
type SpecializationScore struct {
	LawyerID       LawyerID  `json:"lawyer_id"`
	Specialization string    `json:"specialization"`
	Score          float64   `json:"score"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Result is everything one recompute persists for a lawyer, written atomically.
type Result struct {
	Snapshot        Snapshot
	Specializations []SpecializationScore
}
