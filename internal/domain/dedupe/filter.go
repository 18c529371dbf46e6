package dedupe

import (
	"sort"
	"time"

	"github.com/okian/repute/internal/domain/model"
)

// DefaultWindow is the default dedupe window.
const DefaultWindow = 24 * time.Hour

// Reason says which correlation key caused a suppression.
type Reason string

// Suppression reasons.
const (
	ReasonDevice Reason = "device"
	ReasonIP     Reason = "ip"
)

// Suppressed is a review excluded from scoring, kept for audit.
type Suppressed struct {
	Review model.Review
	Reason Reason
	// KeptID is the review that anchored the suppression.
	KeptID string
}

// Filter is the anti-gaming filter. Reviews sharing a device or an IP
// address for the same lawyer within the window collapse to the earliest.
// It is a best-effort spam heuristic, not fraud-proof. Filter is stateless
// and safe for concurrent use.
type Filter struct {
	window time.Duration
}

// NewFilter creates a Filter with configuration options.
func NewFilter(opts ...Option) *Filter {
	f := &Filter{window: DefaultWindow}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Window returns the configured dedupe window.
func (f *Filter) Window() time.Duration { return f.window }

type groupKey struct {
	lawyer string
	kind   Reason
	value  string
}

type anchor struct {
	at time.Time
	id string
}

// Apply splits reviews into the eligible set and the suppressed set. The
// input is not modified. Both outputs are ordered by (CreatedAt, ID).
//
// Each device group and each IP group is judged on its own: the group's
// earliest review anchors a window and later reviews inside it lose. A
// review that loses in any of its groups is suppressed, and it still
// anchors every group where it came first. Reviews with neither a device
// nor an IP cannot be correlated and are always eligible.
func (f *Filter) Apply(reviews []model.Review) (eligible []model.Review, suppressed []Suppressed) {
	ordered := make([]model.Review, len(reviews))
	copy(ordered, reviews)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	anchors := make(map[groupKey]anchor)
	eligible = make([]model.Review, 0, len(ordered))

	for _, r := range ordered {
		hit := false
		var s Suppressed
		for _, k := range keysOf(&r) {
			a, ok := anchors[k]
			if ok && r.CreatedAt.Sub(a.at) < f.window {
				if !hit {
					hit = true
					s = Suppressed{Review: r, Reason: k.kind, KeptID: a.id}
				}
				continue
			}
			anchors[k] = anchor{at: r.CreatedAt, id: r.ID}
		}
		if hit {
			suppressed = append(suppressed, s)
			continue
		}
		eligible = append(eligible, r)
	}
	return eligible, suppressed
}

func keysOf(r *model.Review) []groupKey {
	keys := make([]groupKey, 0, 2)
	if r.DeviceID != "" {
		keys = append(keys, groupKey{lawyer: r.LawyerID, kind: ReasonDevice, value: r.DeviceID})
	}
	if r.IPAddress != "" {
		keys = append(keys, groupKey{lawyer: r.LawyerID, kind: ReasonIP, value: r.IPAddress})
	}
	return keys
}
