// Package repository is the event store: it reads a lawyer's raw events and
// writes the derived snapshot and specialization rows.
package repository

import (
	"context"
	"time"

	"github.com/okian/repute/internal/domain/model"
)

// EventReader loads the full current event set of one lawyer.
type EventReader interface {
	// Load returns every event of the lawyer together with the revision of
	// the lawyer's snapshot. An unknown lawyer yields an empty set.
	Load(ctx context.Context, lawyerID model.LawyerID) (*model.EventSet, error)
}

// SnapshotWriter persists derived aggregates.
type SnapshotWriter interface {
	// Save upserts the snapshot and the specialization rows in one
	// transaction and deletes specialization rows absent from result.
	// It fails with ErrTransactionConflict when the stored revision is not
	// expectedRevision, leaving the previous rows untouched.
	Save(ctx context.Context, result model.Result, expectedRevision int64) error
}

// SnapshotReader serves the read views.
type SnapshotReader interface {
	// Snapshot returns ErrNotFound when the lawyer was never computed.
	Snapshot(ctx context.Context, lawyerID model.LawyerID) (model.Snapshot, error)
	Specializations(ctx context.Context, lawyerID model.LawyerID) ([]model.SpecializationScore, error)
}

// EventWriter is the append API used by collaborators. Events are validated
// before they are stored.
type EventWriter interface {
	AppendReview(ctx context.Context, r model.Review) error
	// AppendOutcome fails with ErrDuplicateAppointment for a known appointment.
	AppendOutcome(ctx context.Context, o model.AppointmentOutcome) error
	AppendCompliance(ctx context.Context, c model.ComplianceEvent) error
	// ResolveCompliance sets the resolution time of an open event and
	// returns the lawyer it belongs to.
	ResolveCompliance(ctx context.Context, eventID string, at time.Time) (model.LawyerID, error)
}

// Stats summarizes the materialized snapshots.
type Stats struct {
	Lawyers int                `json:"lawyers"`
	Tiers   map[model.Tier]int `json:"tiers"`
}

// Store is the complete event store.
type Store interface {
	EventReader
	EventWriter
	SnapshotReader
	SnapshotWriter

	// LawyersWithEventsSince lists lawyers with an event recorded (or a
	// compliance event resolved) at or after since, ordered by id.
	LawyersWithEventsSince(ctx context.Context, since time.Time) ([]model.LawyerID, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
