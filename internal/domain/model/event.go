// Package model contains domain models passed between layers.
package model

import "time"

// LawyerID is the opaque identity anchor for all aggregates.
type LawyerID = string

// Review is one star rating left by a client. Reviews are immutable once
// accepted; suppression by the anti-gaming filter is derived, never stored.
type Review struct {
	ID             string    `json:"id" validate:"required"`
	LawyerID       LawyerID  `json:"lawyer_id" validate:"required"`
	Rating         int       `json:"rating" validate:"min=1,max=5"`
	Comment        string    `json:"comment"`
	IPAddress      string    `json:"ip_address" validate:"omitempty,ip"`
	DeviceID       string    `json:"device_id"`
	Specialization string    `json:"specialization"` // practice area of the case, "" when unattributed
	CreatedAt      time.Time `json:"created_at" validate:"required"`
}

// OutcomeStatus is the resolution of an appointment.
type OutcomeStatus string

// Appointment outcome statuses.
const (
	StatusCompleted   OutcomeStatus = "completed"
	StatusNoShow      OutcomeStatus = "no_show"
	StatusLate        OutcomeStatus = "late"
	StatusCancelled   OutcomeStatus = "cancelled"
	StatusRescheduled OutcomeStatus = "rescheduled"
)

// Party identifies who cancelled an appointment.
type Party string

// Cancelling parties. An empty Party means attribution is unknown.
const (
	PartyLawyer Party = "lawyer"
	PartyClient Party = "client"
	PartySystem Party = "system"
)

// AppointmentOutcome is the single resolution row of an appointment.
// A nil LawyerJoinedAt signals a lawyer no-show; a nil UserJoinedAt signals
// a client no-show.
type AppointmentOutcome struct {
	AppointmentID  string        `json:"appointment_id" validate:"required"`
	LawyerID       LawyerID      `json:"lawyer_id" validate:"required"`
	Status         OutcomeStatus `json:"status" validate:"required,oneof=completed no_show late cancelled rescheduled"`
	LawyerJoinedAt *time.Time    `json:"lawyer_joined_at,omitempty"`
	UserJoinedAt   *time.Time    `json:"user_joined_at,omitempty"`
	IsPaid         bool          `json:"is_paid"`
	CancelledBy    Party         `json:"cancelled_by,omitempty" validate:"omitempty,oneof=lawyer client system"`
	Specialization string        `json:"specialization"`
	ScheduledAt    time.Time     `json:"scheduled_at" validate:"required"`
	ResolvedAt     time.Time     `json:"resolved_at" validate:"required"`
}

// ComplianceType enumerates moderation findings that deduct from a score.
type ComplianceType string

// Compliance event types.
const (
	MinorComplaint     ComplianceType = "minor_complaint"
	VerifiedMisconduct ComplianceType = "verified_misconduct"
	RefundDisputeLoss  ComplianceType = "refund_dispute_loss"
)

// ComplianceEvent is a record of fact from the moderation workflow. Setting
// ResolvedAt is the only permitted mutation.
type ComplianceEvent struct {
	ID         string         `json:"id" validate:"required"`
	LawyerID   LawyerID       `json:"lawyer_id" validate:"required"`
	Type       ComplianceType `json:"type" validate:"required,oneof=minor_complaint verified_misconduct refund_dispute_loss"`
	OccurredAt time.Time      `json:"occurred_at" validate:"required"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Unresolved reports whether the event still counts toward deductions.
func (c ComplianceEvent) Unresolved() bool { return c.ResolvedAt == nil }

// EventSet is the full current event set of one lawyer as read from the store.
type EventSet struct {
	LawyerID   LawyerID
	Reviews    []Review
	Outcomes   []AppointmentOutcome
	Compliance []ComplianceEvent

	// Revision of the lawyer's snapshot at read time, 0 when none exists.
	Revision int64
}

// Latest returns the timestamp of the newest event in the set, or the zero
// time for an empty set.
func (s *EventSet) Latest() time.Time {
	var latest time.Time
	for i := range s.Reviews {
		if s.Reviews[i].CreatedAt.After(latest) {
			latest = s.Reviews[i].CreatedAt
		}
	}
	for i := range s.Outcomes {
		if s.Outcomes[i].ResolvedAt.After(latest) {
			latest = s.Outcomes[i].ResolvedAt
		}
	}
	for i := range s.Compliance {
		c := s.Compliance[i]
		if c.OccurredAt.After(latest) {
			latest = c.OccurredAt
		}
		if c.ResolvedAt != nil && c.ResolvedAt.After(latest) {
			latest = *c.ResolvedAt
		}
	}
	return latest.UTC()
}
