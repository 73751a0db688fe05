package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	set, err := contract.Default()
	if err != nil {
		t.Fatalf("contract.Default: %v", err)
	}
	return New(logger.Nop(), set)
}

func violations(t *testing.T, err error) map[string]string {
	t.Helper()
	if !errors.Is(err, drifterr.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	var ve *drifterr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	out := map[string]string{}
	for _, v := range ve.Violations {
		out[v.Field] = v.Constraint
	}
	return out
}

func TestValidateTierRecord(t *testing.T) {
	v := newValidator(t)
	draft := &canonical.Draft{
		Entity:         canonical.EntityAccount,
		Fields:         map[string]any{"id": "1", "name": "Acme", "tier": "Gold"},
		UnmappedFields: map[string]any{"legacy": 1.0},
		TraceID:        "trace-1",
	}
	rec, err := v.Validate(draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	acct, ok := rec.Data.(*canonical.Account)
	if !ok {
		t.Fatalf("expected *Account, got %T", rec.Data)
	}
	if acct.ID != "1" || acct.Name != "Acme" || acct.Tier == nil || *acct.Tier != "Gold" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if rec.Op != canonical.OpUpsert || rec.TraceID != "trace-1" || rec.UnmappedFields["legacy"] != 1.0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	rec.UnmappedFields["x"] = true
	if _, leaked := draft.UnmappedFields["x"]; leaked {
		t.Fatalf("record must not alias the draft's maps")
	}
}

func TestValidateCollectsViolations(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(&canonical.Draft{
		Entity: canonical.EntityOpportunity,
		Fields: map[string]any{
			"id":          "o-1",
			"amount":      -5.0,
			"stage":       "won",
			"probability": 120.0,
			"close_date":  "tomorrow",
			"color":       "red",
		},
	})
	got := violations(t, err)
	want := map[string]string{
		"name":        ConstraintRequired,
		"amount":      ConstraintNonNegative,
		"stage":       ConstraintEnum,
		"probability": ConstraintMax,
		"close_date":  ConstraintType,
		"color":       ConstraintUnknownField,
	}
	for f, c := range want {
		if got[f] != c {
			t.Fatalf("field %s: got %q want %q (all %v)", f, got[f], c, got)
		}
	}
}

func TestValidateEmailAndDelete(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(&canonical.Draft{
		Entity: canonical.EntityContact,
		Fields: map[string]any{"id": "c1", "email": "not-an-email"},
	})
	if got := violations(t, err); got["email"] != "format:email" {
		t.Fatalf("expected email format violation, got %v", got)
	}

	rec, err := v.Validate(&canonical.Draft{
		Entity: canonical.EntityOpportunity,
		Op:     canonical.OpDelete,
		Fields: map[string]any{"id": "o-9"},
	})
	if err != nil {
		t.Fatalf("delete with key only should pass: %v", err)
	}
	if rec.Op != canonical.OpDelete || rec.Data.Key() != "o-9" {
		t.Fatalf("unexpected delete record %+v", rec)
	}

	_, err = v.Validate(&canonical.Draft{Entity: canonical.EntityOpportunity, Op: canonical.OpDelete, Fields: map[string]any{"name": "x"}})
	if got := violations(t, err); got["id"] != ConstraintRequired {
		t.Fatalf("delete without key: %v", got)
	}
}

func TestValidateUnknownEntity(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(&canonical.Draft{Entity: "invoice", Fields: map[string]any{"id": "1"}})
	if got := violations(t, err); got["entity"] != ConstraintKnownEntity {
		t.Fatalf("unexpected %v", got)
	}
}

// Values that satisfy the contract survive apply then validate unchanged.
func TestApplyValidateRoundTrip(t *testing.T) {
	set, _ := contract.Default()
	app := applicator.New(logger.Nop(), set)
	v := New(logger.Nop(), set)

	entries := []*domain.MappingEntry{}
	raw := map[string]any{}
	values := map[string]any{
		"id":             "a-1",
		"name":           "Initech",
		"industry":       "Software",
		"tier":           "Silver",
		"annual_revenue": 1500000.25,
		"employee_count": 120.0,
		"website":        "https://initech.example",
		"created_at":     "2024-06-01T10:00:00Z",
	}
	for field, val := range values {
		src := "src_" + field
		raw[src] = val
		entries = append(entries, &domain.MappingEntry{
			SourceField: src, CanonicalEntity: "account", CanonicalField: field,
			Confidence: 1, Active: true, Version: 1,
		})
	}
	draft, err := app.Apply(applicator.Input{
		Meta:     canonical.SourceMeta{TenantID: "t1", SourceID: "s", Entity: "account"},
		Raw:      raw,
		Mappings: entries,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rec, err := v.Validate(draft)
	if err != nil {
		t.Fatalf("round trip rejected: %v", err)
	}
	acct := rec.Data.(*canonical.Account)
	if *acct.EmployeeCount != 120 || *acct.AnnualRevenue != 1500000.25 {
		t.Fatalf("numeric drift: %+v", acct)
	}
	if !acct.CreatedAt.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at drift: %v", acct.CreatedAt)
	}
}
