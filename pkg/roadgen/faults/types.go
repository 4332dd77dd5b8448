package faults

import (
	"fmt"
	"time"
)

// RemoteError represents a failed call to the remote model service.
type RemoteError struct {
	StatusCode int
	Message    string
	Endpoint   string

	// RetryAfter is the server-provided backoff hint, if any.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("remote call %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("remote call %d: %s", e.StatusCode, e.Message)
}

// ParseError indicates failure to decode structured data from
// free-form model output. Input is truncated for log safety.
type ParseError struct {
	Input   string
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %s", e.Message)
}

// ValidationError indicates a decoded payload failed shape validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}
