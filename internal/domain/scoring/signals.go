package scoring

import (
	"math"

	"github.com/okian/repute/internal/domain/model"
)

// Signal is a bounded 0-100 aggregate backed by N observations. A signal
// with N == 0 is undefined: "no data", which is different from a zero score.
type Signal struct {
	Value float64
	N     int
}

// Defined reports whether the signal is backed by at least one observation.
func (s Signal) Defined() bool { return s.N > 0 }

// Quality rescales the mean star rating of eligible reviews from 1..5 to 0..100.
func Quality(reviews []model.Review) Signal {
	if len(reviews) == 0 {
		return Signal{}
	}
	sum := 0
	for i := range reviews {
		sum += reviews[i].Rating
	}
	mean := float64(sum) / float64(len(reviews))
	return Signal{Value: (mean - 1) / 4 * 100, N: len(reviews)}
}

// Reliability point values per counted outcome.
const (
	pointsCompleted = 1.0
	pointsLate      = 0.5
	pointsMissed    = 0.0
)

// OutcomePoints classifies one outcome. counted is false for rows excluded
// from the denominator: reschedules, client no-shows, and cancellations
// by the client or the platform.
func OutcomePoints(o *model.AppointmentOutcome) (points float64, counted bool) {
	switch o.Status {
	case model.StatusCompleted:
		return pointsCompleted, true
	case model.StatusLate:
		return pointsLate, true
	case model.StatusNoShow:
		if o.LawyerJoinedAt != nil {
			return 0, false
		}
		return pointsMissed, true
	case model.StatusCancelled:
		switch o.CancelledBy {
		case model.PartyLawyer, "":
			return pointsMissed, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

// Reliability is the share of reliability points over counted outcomes, on 0..100.
func Reliability(outcomes []model.AppointmentOutcome) Signal {
	sum, n := 0.0, 0
	for i := range outcomes {
		p, ok := OutcomePoints(&outcomes[i])
		if !ok {
			continue
		}
		sum += p
		n++
	}
	if n == 0 {
		return Signal{}
	}
	return Signal{Value: 100 * sum / float64(n), N: n}
}

// Deduction points per unresolved compliance event.
var deductions = map[model.ComplianceType]float64{
	model.MinorComplaint:     5,
	model.VerifiedMisconduct: 20,
	model.RefundDisputeLoss:  15,
}

// Deduction returns the points a compliance event type subtracts.
func Deduction(t model.ComplianceType) float64 { return deductions[t] }

// ComplianceDeduction sums deductions of unresolved events, capped at 100.
func ComplianceDeduction(events []model.ComplianceEvent) float64 {
	total := 0.0
	for i := range events {
		if events[i].Unresolved() {
			total += deductions[events[i].Type]
		}
	}
	return math.Min(maxScore, total)
}
