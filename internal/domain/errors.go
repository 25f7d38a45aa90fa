package domain

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("record not found")
	ErrNotReady            = errors.New("file not yet available")
	ErrAllocationExhausted = errors.New("public token allocation exhausted")
	ErrTokenConflict       = errors.New("public token already in use")
	ErrPersistence         = errors.New("persistence failure")
	ErrProgressAborted     = errors.New("progress stream aborted")
)

// ValidationError carries the message shown to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(msg string) error { return &ValidationError{Message: msg} }
