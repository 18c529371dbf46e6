// Package scoring turns a lawyer's raw event set into a reputation score,
// a tier and per-specialization sub-scores. Everything here is pure and
// synchronous; callers own I/O, locking and persistence.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/okian/repute/internal/domain/dedupe"
	"github.com/okian/repute/internal/domain/model"
)

// Default scoring parameters.
const (
	DefaultPriorMean          = 60.0
	DefaultConfidenceK        = 10.0
	DefaultSpecializationK    = 5.0
	DefaultQualityWeight      = 0.6
	DefaultReliabilityWeight  = 0.4
	DefaultMinReviewThreshold = 5

	weightTolerance = 1e-9
)

// Params are the numeric knobs of the score.
type Params struct {
	PriorMean          float64
	ConfidenceK        float64
	SpecializationK    float64
	QualityWeight      float64
	ReliabilityWeight  float64
	MinReviewThreshold int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		PriorMean:          DefaultPriorMean,
		ConfidenceK:        DefaultConfidenceK,
		SpecializationK:    DefaultSpecializationK,
		QualityWeight:      DefaultQualityWeight,
		ReliabilityWeight:  DefaultReliabilityWeight,
		MinReviewThreshold: DefaultMinReviewThreshold,
	}
}

// Validate checks the parameter invariants.
func (p Params) Validate() error {
	if math.Abs(p.QualityWeight+p.ReliabilityWeight-1) > weightTolerance ||
		p.QualityWeight < 0 || p.ReliabilityWeight < 0 {
		return fmt.Errorf("%w: got %v + %v", ErrInvalidWeights, p.QualityWeight, p.ReliabilityWeight)
	}
	switch {
	case p.PriorMean < minScore || p.PriorMean > maxScore:
		return fmt.Errorf("%w: prior mean %v outside [0,100]", ErrInvalidParams, p.PriorMean)
	case p.ConfidenceK <= 0:
		return fmt.Errorf("%w: confidence k must be positive", ErrInvalidParams)
	case p.SpecializationK <= 0:
		return fmt.Errorf("%w: specialization k must be positive", ErrInvalidParams)
	case p.MinReviewThreshold < 0:
		return fmt.Errorf("%w: min review threshold must not be negative", ErrInvalidParams)
	}
	return nil
}

// RowKind names the event table an invalid row came from.
type RowKind string

// Row kinds.
const (
	KindReview     RowKind = "review"
	KindOutcome    RowKind = "outcome"
	KindCompliance RowKind = "compliance"
)

// InvalidRow is an event skipped during aggregation.
type InvalidRow struct {
	Kind RowKind
	ID   string
	Err  error
}

// Report is the outcome of scoring one event set.
type Report struct {
	Result      model.Result
	Composition Composition
	Suppressed  []dedupe.Suppressed
	Invalid     []InvalidRow
}

// Scorer computes a lawyer's derived aggregates from the full event set.
type Scorer interface {
	// Score is pure apart from honoring ctx for cancellation.
	Score(ctx context.Context, set *model.EventSet) (Report, error)
}

// Engine implements Scorer.
type Engine struct {
	params Params
	filter *dedupe.Filter
}

// NewEngine creates an engine with configuration options and validates the result.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		params: DefaultParams(),
		filter: dedupe.NewFilter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params { return e.params }

// Score runs the anti-gaming filter, the three aggregators, confidence
// weighting, the composer and the specialization scorer. Invalid rows are
// skipped and reported; they never fail the whole computation.
func (e *Engine) Score(ctx context.Context, set *model.EventSet) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("scoring %s: %w", set.LawyerID, err)
	}

	var rep Report
	reviews := e.validReviews(set, &rep)
	outcomes := e.validOutcomes(set, &rep)
	compliance := e.validCompliance(set, &rep)

	eligible, suppressed := e.filter.Apply(reviews)
	rep.Suppressed = suppressed

	rep.Composition = e.params.Compose(Quality(eligible), Reliability(outcomes), ComplianceDeduction(compliance))
	rep.Result = model.Result{
		Snapshot: model.Snapshot{
			LawyerID:          set.LawyerID,
			RatingScore:       rep.Composition.RatingScore,
			Tier:              rep.Composition.Tier,
			TotalReviews:      rep.Composition.TotalReviews,
			TotalInteractions: rep.Composition.TotalInteractions,
			UpdatedAt:         set.Latest(),
		},
		Specializations: e.params.Specializations(set.LawyerID, eligible, outcomes),
	}
	return rep, nil
}

func (e *Engine) validReviews(set *model.EventSet, rep *Report) []model.Review {
	out := make([]model.Review, 0, len(set.Reviews))
	for i := range set.Reviews {
		r := &set.Reviews[i]
		if err := ownedBy(set.LawyerID, r.LawyerID); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindReview, ID: r.ID, Err: err})
			continue
		}
		if err := model.ValidateReview(r); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindReview, ID: r.ID, Err: err})
			continue
		}
		out = append(out, *r)
	}
	return out
}

// validOutcomes also enforces one row per appointment: later duplicates
// (by resolution time, then id order) are rejected.
func (e *Engine) validOutcomes(set *model.EventSet, rep *Report) []model.AppointmentOutcome {
	ordered := make([]model.AppointmentOutcome, len(set.Outcomes))
	copy(ordered, set.Outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ResolvedAt.Equal(ordered[j].ResolvedAt) {
			return ordered[i].ResolvedAt.Before(ordered[j].ResolvedAt)
		}
		return ordered[i].AppointmentID < ordered[j].AppointmentID
	})

	seen := make(map[string]struct{}, len(ordered))
	out := make([]model.AppointmentOutcome, 0, len(ordered))
	for i := range ordered {
		o := &ordered[i]
		if err := ownedBy(set.LawyerID, o.LawyerID); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindOutcome, ID: o.AppointmentID, Err: err})
			continue
		}
		if err := model.ValidateOutcome(o); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindOutcome, ID: o.AppointmentID, Err: err})
			continue
		}
		if _, dup := seen[o.AppointmentID]; dup {
			rep.Invalid = append(rep.Invalid, InvalidRow{
				Kind: KindOutcome,
				ID:   o.AppointmentID,
				Err:  fmt.Errorf("%w: duplicate appointment id", model.ErrInvalidEventData),
			})
			continue
		}
		seen[o.AppointmentID] = struct{}{}
		out = append(out, *o)
	}
	return out
}

func (e *Engine) validCompliance(set *model.EventSet, rep *Report) []model.ComplianceEvent {
	out := make([]model.ComplianceEvent, 0, len(set.Compliance))
	for i := range set.Compliance {
		c := &set.Compliance[i]
		if err := ownedBy(set.LawyerID, c.LawyerID); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindCompliance, ID: c.ID, Err: err})
			continue
		}
		if err := model.ValidateCompliance(c); err != nil {
			rep.Invalid = append(rep.Invalid, InvalidRow{Kind: KindCompliance, ID: c.ID, Err: err})
			continue
		}
		out = append(out, *c)
	}
	return out
}

func ownedBy(want, got model.LawyerID) error {
	if want != got {
		return fmt.Errorf("%w: row belongs to lawyer %q", model.ErrInvalidEventData, got)
	}
	return nil
}
