package drifterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	verr := &ValidationError{Entity: "account", Violations: []Violation{{Field: "id", Constraint: "required", Actual: nil}}}
	wrapped := fmt.Errorf("record 3: %w", verr)
	if !errors.Is(wrapped, ErrValidationFailed) {
		t.Fatalf("validation error should match ErrValidationFailed")
	}
	var got *ValidationError
	if !errors.As(wrapped, &got) || got.Violations[0].Field != "id" {
		t.Fatalf("expected to recover violations, got %+v", got)
	}
	if !strings.Contains(verr.Error(), "id: required") {
		t.Fatalf("unexpected message %q", verr.Error())
	}

	if !errors.Is(&ConflictError{Key: "k", CurrentVersion: 2}, ErrRegistryConflict) {
		t.Fatalf("conflict error should match ErrRegistryConflict")
	}

	cause := errors.New("connection refused")
	uerr := &UnavailableError{SourceID: "crm", Entity: "accounts", Err: cause}
	if !errors.Is(uerr, ErrFingerprintUnavailable) || !errors.Is(uerr, cause) {
		t.Fatalf("unavailable error should match sentinel and cause")
	}
}

func TestHelpers(t *testing.T) {
	if !errors.Is(NotFound("mapping", 7), ErrNotFound) {
		t.Fatalf("NotFound should wrap ErrNotFound")
	}
	if err := Invalid("bad %s", "field"); !errors.Is(err, ErrInvalidArgument) || !strings.HasPrefix(err.Error(), "bad field") {
		t.Fatalf("unexpected Invalid error %v", err)
	}
}
