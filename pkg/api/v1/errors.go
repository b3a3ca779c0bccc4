package v1

import "errors"

// Common API errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("resource not found")
	ErrTimeout        = errors.New("operation timed out")
	ErrUnavailable    = errors.New("service unavailable")
)

// Error codes returned in ErrorDetail.Code.
const (
	CodeValidation  = "validation_error"
	CodeUnavailable = "retrieval_unavailable"
	CodeComposition = "composition_error"
	CodeConflict    = "conflict"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal_error"
)
