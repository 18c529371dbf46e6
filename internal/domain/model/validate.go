package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateReview checks a review at the ingestion boundary.
func ValidateReview(r *Review) error {
	return check(r)
}

// ValidateOutcome checks an appointment outcome. Join timestamps after the
// resolution time would imply a negative attendance duration.
func ValidateOutcome(o *AppointmentOutcome) error {
	if err := check(o); err != nil {
		return err
	}
	if o.LawyerJoinedAt != nil && o.LawyerJoinedAt.After(o.ResolvedAt) {
		return fmt.Errorf("%w: lawyer_joined_at after resolved_at", ErrInvalidEventData)
	}
	if o.UserJoinedAt != nil && o.UserJoinedAt.After(o.ResolvedAt) {
		return fmt.Errorf("%w: user_joined_at after resolved_at", ErrInvalidEventData)
	}
	return nil
}

// ValidateCompliance checks a compliance event.
func ValidateCompliance(c *ComplianceEvent) error {
	if err := check(c); err != nil {
		return err
	}
	if c.ResolvedAt != nil && c.ResolvedAt.Before(c.OccurredAt) {
		return fmt.Errorf("%w: resolved_at before occurred_at", ErrInvalidEventData)
	}
	return nil
}

func check(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEventData, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidEventData, strings.Join(parts, "; "))
}
