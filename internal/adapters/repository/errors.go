package repository

import "errors"

// Sentinel kinds for event store errors.
var (
	ErrNotFound              = errors.New("not found")
	ErrEventStoreUnavailable = errors.New("event store unavailable")
	ErrTransactionConflict   = errors.New("snapshot revision conflict")
	ErrDuplicateAppointment  = errors.New("appointment outcome already recorded")
	ErrDuplicateEvent        = errors.New("event already recorded")
	ErrAlreadyResolved       = errors.New("compliance event already resolved")
	ErrConstraintViolation   = errors.New("constraint violation")
)
