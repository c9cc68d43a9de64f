package content

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the service. Callers match with errors.Is.
var (
	// ErrNotFound reports an unknown job ID.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady reports a Results call before the job is terminal.
	ErrNotReady = errors.New("job not in a terminal state")
	// ErrAlreadyTerminal reports a Cancel on a finished job.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrCapacity reports that no render permit became available in time.
	// Distinct from content errors so callers can back off and retry.
	ErrCapacity = errors.New("rendering capacity exceeded")
	// ErrStoreUnavailable reports that the job store cannot be reached.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// ValidationError reports a malformed JobSpec or WorkItem. Caller's fault,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// FetchError wraps a network or HTTP-level fetch failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RenderError wraps a headless backend failure. Treated as an item failure,
// never a job failure.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.URL, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
