package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/repute/internal/domain/model"
)

type storedSnapshot struct {
	snap     model.Snapshot
	revision int64
}

// MemoryStore implements Store in process memory. It backs tests and
// deployments configured with the "memory" dsn.
type MemoryStore struct {
	mu   sync.RWMutex
	opts options

	reviews    map[string]model.Review
	outcomes   map[string]model.AppointmentOutcome
	compliance map[string]model.ComplianceEvent
	recorded   map[string]time.Time // event key -> when it was last written

	snapshots map[model.LawyerID]storedSnapshot
	specs     map[model.LawyerID][]model.SpecializationScore
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:       newOptions(opts),
		reviews:    make(map[string]model.Review),
		outcomes:   make(map[string]model.AppointmentOutcome),
		compliance: make(map[string]model.ComplianceEvent),
		recorded:   make(map[string]time.Time),
		snapshots:  make(map[model.LawyerID]storedSnapshot),
		specs:      make(map[model.LawyerID][]model.SpecializationScore),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Load implements EventReader.
func (s *MemoryStore) Load(ctx context.Context, lawyerID model.LawyerID) (*model.EventSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load events of %s: %w", lawyerID, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := &model.EventSet{LawyerID: lawyerID, Revision: s.snapshots[lawyerID].revision}
	for _, r := range s.reviews {
		if r.LawyerID == lawyerID {
			set.Reviews = append(set.Reviews, r)
		}
	}
	for _, o := range s.outcomes {
		if o.LawyerID == lawyerID {
			set.Outcomes = append(set.Outcomes, cloneOutcome(o))
		}
	}
	for _, c := range s.compliance {
		if c.LawyerID == lawyerID {
			set.Compliance = append(set.Compliance, cloneCompliance(c))
		}
	}

	sort.Slice(set.Reviews, func(i, j int) bool {
		a, b := set.Reviews[i], set.Reviews[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.Slice(set.Outcomes, func(i, j int) bool {
		a, b := set.Outcomes[i], set.Outcomes[j]
		if !a.ResolvedAt.Equal(b.ResolvedAt) {
			return a.ResolvedAt.Before(b.ResolvedAt)
		}
		return a.AppointmentID < b.AppointmentID
	})
	sort.Slice(set.Compliance, func(i, j int) bool {
		a, b := set.Compliance[i], set.Compliance[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.ID < b.ID
	})
	return set, nil
}

// Save implements SnapshotWriter.
func (s *MemoryStore) Save(ctx context.Context, result model.Result, expectedRevision int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := result.Snapshot.LawyerID
	current := s.snapshots[id].revision
	if current != expectedRevision {
		return fmt.Errorf("save snapshot of %s: %w: at revision %d, expected %d",
			id, ErrTransactionConflict, current, expectedRevision)
	}

	snap := result.Snapshot
	snap.UpdatedAt = normalize(snap.UpdatedAt)
	s.snapshots[id] = storedSnapshot{snap: snap, revision: current + 1}

	specs := make([]model.SpecializationScore, len(result.Specializations))
	for i, sp := range result.Specializations {
		sp.LawyerID = id
		sp.LastUpdated = normalize(sp.LastUpdated)
		specs[i] = sp
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Specialization < specs[j].Specialization })
	s.specs[id] = specs
	return nil
}

// Snapshot implements SnapshotReader.
func (s *MemoryStore) Snapshot(_ context.Context, lawyerID model.LawyerID) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.snapshots[lawyerID]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("snapshot of %s: %w", lawyerID, ErrNotFound)
	}
	return st.snap, nil
}

// Specializations implements SnapshotReader.
func (s *MemoryStore) Specializations(_ context.Context, lawyerID model.LawyerID) ([]model.SpecializationScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SpecializationScore, len(s.specs[lawyerID]))
	copy(out, s.specs[lawyerID])
	return out, nil
}

// AppendReview implements EventWriter.
func (s *MemoryStore) AppendReview(_ context.Context, r model.Review) error {
	if err := model.ValidateReview(&r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[r.ID]; ok {
		return fmt.Errorf("review %s: %w", r.ID, ErrDuplicateEvent)
	}
	r.CreatedAt = normalize(r.CreatedAt)
	s.reviews[r.ID] = r
	s.recorded["r/"+r.ID] = s.opts.clock()
	return nil
}

// AppendOutcome implements EventWriter.
func (s *MemoryStore) AppendOutcome(_ context.Context, o model.AppointmentOutcome) error {
	if err := model.ValidateOutcome(&o); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outcomes[o.AppointmentID]; ok {
		return fmt.Errorf("appointment %s: %w", o.AppointmentID, ErrDuplicateAppointment)
	}
	o = cloneOutcome(o)
	o.ScheduledAt = normalize(o.ScheduledAt)
	o.ResolvedAt = normalize(o.ResolvedAt)
	s.outcomes[o.AppointmentID] = o
	s.recorded["o/"+o.AppointmentID] = s.opts.clock()
	return nil
}

// AppendCompliance implements EventWriter.
func (s *MemoryStore) AppendCompliance(_ context.Context, c model.ComplianceEvent) error {
	if err := model.ValidateCompliance(&c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.compliance[c.ID]; ok {
		return fmt.Errorf("compliance event %s: %w", c.ID, ErrDuplicateEvent)
	}
	c = cloneCompliance(c)
	c.OccurredAt = normalize(c.OccurredAt)
	s.compliance[c.ID] = c
	s.recorded["c/"+c.ID] = s.opts.clock()
	return nil
}

// ResolveCompliance implements EventWriter.
func (s *MemoryStore) ResolveCompliance(_ context.Context, eventID string, at time.Time) (model.LawyerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.compliance[eventID]
	if !ok {
		return "", fmt.Errorf("compliance event %s: %w", eventID, ErrNotFound)
	}
	if c.ResolvedAt != nil {
		return "", fmt.Errorf("compliance event %s: %w", eventID, ErrAlreadyResolved)
	}
	if err := checkResolution(c.OccurredAt, at); err != nil {
		return "", err
	}
	resolved := normalize(at)
	c.ResolvedAt = &resolved
	s.compliance[eventID] = c
	s.recorded["c/"+eventID] = s.opts.clock()
	return c.LawyerID, nil
}

// LawyersWithEventsSince implements Store.
func (s *MemoryStore) LawyersWithEventsSince(ctx context.Context, since time.Time) ([]model.LawyerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[model.LawyerID]struct{})
	for key, at := range s.recorded {
		if at.Before(since) {
			continue
		}
		ids[s.ownerLocked(key)] = struct{}{}
	}
	out := make([]model.LawyerID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ownerLocked(key string) model.LawyerID {
	id := key[2:]
	switch key[0] {
	case 'r':
		return s.reviews[id].LawyerID
	case 'o':
		return s.outcomes[id].LawyerID
	default:
		return s.compliance[id].LawyerID
	}
}

// Stats implements Store.
func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Lawyers: len(s.snapshots), Tiers: make(map[model.Tier]int, len(model.Tiers))}
	for _, t := range model.Tiers {
		st.Tiers[t] = 0
	}
	for _, v := range s.snapshots {
		st.Tiers[v.snap.Tier]++
	}
	return st, nil
}

// InsertRawReview stores a review without validation, the way a legacy
// writer sharing the database could. Used to exercise row-level rejection.
func (s *MemoryStore) InsertRawReview(r model.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.ID] = r
	s.recorded["r/"+r.ID] = s.opts.clock()
}

func normalize(t time.Time) time.Time {
	return fromNanos(toNanos(t))
}

func cloneOutcome(o model.AppointmentOutcome) model.AppointmentOutcome {
	if o.LawyerJoinedAt != nil {
		t := normalize(*o.LawyerJoinedAt)
		o.LawyerJoinedAt = &t
	}
	if o.UserJoinedAt != nil {
		t := normalize(*o.UserJoinedAt)
		o.UserJoinedAt = &t
	}
	return o
}

func cloneCompliance(c model.ComplianceEvent) model.ComplianceEvent {
	if c.ResolvedAt != nil {
		t := normalize(*c.ResolvedAt)
		c.ResolvedAt = &t
	}
	return c
}
