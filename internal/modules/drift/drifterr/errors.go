// Package drifterr is the error taxonomy shared by the drift pipeline.
// Typed errors implement Is against the sentinels so callers can branch with
// errors.Is while still reaching the structured detail via errors.As.
package drifterr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFingerprintUnavailable means the source could not be read. Retry with
	// backoff; no drift ticket is created.
	ErrFingerprintUnavailable = errors.New("fingerprint unavailable")

	// ErrAmbiguousDrift marks rename-vs-delete changes. Always reviewed.
	ErrAmbiguousDrift = errors.New("ambiguous drift")

	// ErrProposalTimeout means the generative step exceeded its budget.
	ErrProposalTimeout = errors.New("proposal timeout")

	// ErrValidationFailed rejects a single record; the batch continues.
	ErrValidationFailed = errors.New("validation failed")

	// ErrRegistryConflict means a concurrent activation won the race.
	ErrRegistryConflict = errors.New("registry conflict")

	ErrNotFound        = errors.New("not found")
	ErrMissingTenant   = errors.New("tenant id required")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotRepairable   = errors.New("ticket does not need a mapping")
	ErrNotApprovable   = errors.New("activation requires high confidence or approval")
	ErrAlreadyDecided  = errors.New("review item already decided")
)

// Violation is one failed contract check.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Actual     any    `json:"actual"`
}

type ValidationError struct {
	Entity     string      `json:"entity"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s (got %v)", v.Field, v.Constraint, v.Actual))
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

type ConflictError struct {
	Key            string
	CurrentVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("registry conflict on %s (current version %d)", e.Key, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRegistryConflict
}

type UnavailableError struct {
	SourceID string
	Entity   string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("fingerprint %s/%s unavailable: %v", e.SourceID, e.Entity, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrFingerprintUnavailable
}

func NotFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}
