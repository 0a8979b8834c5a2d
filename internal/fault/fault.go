// Package fault defines the error taxonomy shared across the review pipeline
// and the retry policy applied to transient failures.
package fault

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// InvalidConfigError reports unusable pipeline parameters. It fails the job
// immediately; there is nothing to retry.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// ValidationError reports reasoning-service output that does not match the
// expected schema. The caller gets one retry with a stricter prompt before
// the chunk stage is marked failed.
type ValidationError struct {
	Stage  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: schema validation failed: %s", e.Stage, e.Detail)
}

// TransientError reports a retryable external-service failure such as a
// timeout or throttling response.
type TransientError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient service error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
	}
	if e.Cause != nil {
		return fmt.Sprintf("transient service error: %v", e.Cause)
	}
	return fmt.Sprintf("transient service error: %s", truncate(e.Message, 200))
}

func (e *TransientError) Unwrap() error { return e.Cause }

// UnrecoverableError reports a job-level fatal condition: a missing blob, a
// malformed source document. The whole job transitions to failed.
type UnrecoverableError struct {
	Reason string
	Cause  error
}

func (e *UnrecoverableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unrecoverable: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("unrecoverable: %s", e.Reason)
}

func (e *UnrecoverableError) Unwrap() error { return e.Cause }

// IsInvalidConfig reports whether err is an InvalidConfigError.
func IsInvalidConfig(err error) bool {
	var e *InvalidConfigError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

// IsUnrecoverable reports whether err must fail the whole job.
func IsUnrecoverable(err error) bool {
	var e *UnrecoverableError
	return errors.As(err, &e)
}

// MaxAttempts bounds transient-error retries per external call.
const MaxAttempts = 3

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
