package services

import "errors"

// Error taxonomy for the confirmation and sync core. Validation and state
// errors are returned synchronously and never retried; ErrNetwork is the only
// retryable class.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("transition not legal from current state")
	ErrExpired       = errors.New("otp window passed")
	ErrInvalidOTP    = errors.New("otp code mismatch")
	ErrNotEligible   = errors.New("employee not eligible")
	ErrAlreadyActive = errors.New("shift already active")
	ErrNotActive     = errors.New("no active shift")
	ErrNetwork       = errors.New("network failure, safe to retry")
	ErrNotAuthorized = errors.New("not authorized")
)
