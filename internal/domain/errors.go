package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Retryable  bool   `json:"retryable,omitempty"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so errors built with
// WithError still satisfy errors.Is against the catalogue below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Retryable:  e.Retryable,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
		Retryable:  true,
	}

	// Recognition errors

	ErrNoFaceDetected = &AppError{
		Code:       "NO_FACE_DETECTED",
		Message:    "No face detected in the image",
		StatusCode: 422,
		Retryable:  true,
	}

	ErrAmbiguousFace = &AppError{
		Code:       "AMBIGUOUS_FACE",
		Message:    "Multiple faces detected, please provide image with single face",
		StatusCode: 422,
		Retryable:  true,
	}

	ErrNoMatch = &AppError{
		Code:       "NO_MATCH",
		Message:    "Face not recognized",
		StatusCode: 404,
	}

	ErrExtractorTimeout = &AppError{
		Code:       "EXTRACTOR_TIMEOUT",
		Message:    "Face extractor did not respond in time",
		StatusCode: 504,
		Retryable:  true,
	}

	ErrExtractorFailure = &AppError{
		Code:       "EXTRACTOR_UNAVAILABLE",
		Message:    "Face extractor is unavailable",
		StatusCode: 503,
		Retryable:  true,
	}

	// Enrollment errors

	ErrInsufficientSamples = &AppError{
		Code:       "INSUFFICIENT_SAMPLES",
		Message:    "Not enough frames with exactly one face to enroll identity",
		StatusCode: 422,
	}

	ErrIdentityExists = &AppError{
		Code:       "IDENTITY_ALREADY_EXISTS",
		Message:    "Identity already registered for this identity_key",
		StatusCode: 409,
	}

	ErrIdentityNotFound = &AppError{
		Code:       "IDENTITY_NOT_FOUND",
		Message:    "Identity not found",
		StatusCode: 404,
	}

	// Attendance errors

	ErrAlreadyCheckedOut = &AppError{
		Code:       "ALREADY_CHECKED_OUT",
		Message:    "Already checked out today",
		StatusCode: 409,
	}

	ErrConcurrencyConflict = &AppError{
		Code:       "CONCURRENCY_CONFLICT",
		Message:    "Attendance update conflicted with a concurrent request",
		StatusCode: 503,
		Retryable:  true,
	}

	// Integrity faults. These indicate bad data or a misconfigured extractor
	// and are never coerced.

	ErrDimensionMismatch = &AppError{
		Code:       "EMBEDDING_DIMENSION_MISMATCH",
		Message:    "Embedding dimension mismatch",
		StatusCode: 500,
	}

	ErrNonUnitEmbedding = &AppError{
		Code:       "EMBEDDING_NOT_UNIT_NORM",
		Message:    "Stored embedding is not unit-norm",
		StatusCode: 500,
	}
)
