package scoring

import (
	"sort"
	"time"

	"github.com/okian/repute/internal/domain/model"
)

type area struct {
	reviews []model.Review
	cases   int
	latest  time.Time
}

// Specializations scores quality per practice area with the narrower
// specialization confidence constant. Reliability and compliance are
// lawyer-global and do not enter here. Areas with no eligible review and no
// counted outcome produce no row.
func (p Params) Specializations(lawyerID model.LawyerID, eligible []model.Review, outcomes []model.AppointmentOutcome) []model.SpecializationScore {
	areas := make(map[string]*area)
	get := func(name string) *area {
		a, ok := areas[name]
		if !ok {
			a = &area{}
			areas[name] = a
		}
		return a
	}

	for _, r := range eligible {
		if r.Specialization == "" {
			continue
		}
		a := get(r.Specialization)
		a.reviews = append(a.reviews, r)
		if r.CreatedAt.After(a.latest) {
			a.latest = r.CreatedAt
		}
	}
	for i := range outcomes {
		o := &outcomes[i]
		if o.Specialization == "" {
			continue
		}
		if _, counted := OutcomePoints(o); !counted {
			continue
		}
		a := get(o.Specialization)
		a.cases++
		if o.ResolvedAt.After(a.latest) {
			a.latest = o.ResolvedAt
		}
	}

	names := make([]string, 0, len(areas))
	for name := range areas {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.SpecializationScore, 0, len(names))
	for _, name := range names {
		a := areas[name]
		out = append(out, model.SpecializationScore{
			LawyerID:       lawyerID,
			Specialization: name,
			Score:          round(clamp(Weighted(Quality(a.reviews), p.PriorMean, p.SpecializationK))),
			LastUpdated:    a.latest.UTC(),
		})
	}
	return out
}
