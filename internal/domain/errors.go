package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrFlagNotFound       = errors.New("feature flag not found")
	ErrApprovalNotFound   = errors.New("approval not found")
	ErrInvalidTransition  = errors.New("invalid flag status transition")
	ErrApprovalConflict   = errors.New("approval conflict")
	ErrInvariantViolation = errors.New("invariant violation")
)
