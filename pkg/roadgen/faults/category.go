// Package faults provides error types and categorization for the
// generation engine.
//
// The package implements a layered error handling approach:
//   - Categorization: classify errors as retryable or not
//   - Typed errors: remote call failures, decode failures, validation
//   - Hints: surface server-provided retry-after delays to the retry layer
package faults

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, 5xx responses.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, malformed requests.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient creates a transient categorized error.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent creates a permanent categorized error.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
//
// Remote errors are classified by status code: 429 and 5xx are
// transient, other 4xx are permanent. Timeouts and context deadline
// expiry are transient. Everything unrecognized is permanent (fail
// safe: never loop on a programming error).
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		switch {
		case remoteErr.StatusCode == 429:
			return CategoryTransient
		case remoteErr.StatusCode >= 500:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// RetryAfterHint extracts a server-provided retry-after delay from the
// error chain. Returns zero if no hint is present.
func RetryAfterHint(err error) time.Duration {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.RetryAfter
	}
	return 0
}
