package applicator

import (
	"testing"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func newApplicator(t *testing.T) (*Applicator, *contract.Set) {
	t.Helper()
	set, err := contract.Default()
	if err != nil {
		t.Fatalf("contract.Default: %v", err)
	}
	return New(logger.Nop(), set), set
}

func mapping(entity, source, canonicalField, transform string, conf float64) *domain.MappingEntry {
	return &domain.MappingEntry{
		SourceField:     source,
		CanonicalEntity: entity,
		CanonicalField:  canonicalField,
		Transform:       transform,
		Confidence:      conf,
		Active:          true,
		Version:         1,
	}
}

func TestApplyTierScenario(t *testing.T) {
	a, _ := newApplicator(t)
	draft, err := a.Apply(Input{
		Meta: canonical.SourceMeta{TenantID: "t1", SourceID: "crm", Entity: "account"},
		Raw:  map[string]any{"id": "1", "name": "Acme", "tier": "Gold"},
		Mappings: []*domain.MappingEntry{
			mapping("account", "id", "id", "", 1),
			mapping("account", "name", "name", "", 1),
			mapping("account", "tier", "tier", "", 0.93),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if draft.Entity != canonical.EntityAccount || draft.Op != canonical.OpUpsert {
		t.Fatalf("unexpected draft header %+v", draft)
	}
	if draft.Fields["tier"] != "Gold" || draft.Fields["id"] != "1" || draft.Fields["name"] != "Acme" {
		t.Fatalf("unexpected fields %#v", draft.Fields)
	}
	if len(draft.UnmappedFields) != 0 {
		t.Fatalf("expected nothing unmapped, got %#v", draft.UnmappedFields)
	}
}

func TestApplyNeverDropsFields(t *testing.T) {
	a, _ := newApplicator(t)
	raw := map[string]any{
		"AccountId":   "42",
		"Name":        "Globex",
		"legacy_code": "X-9",
		"nested":      map[string]any{"a": 1.0},
		"inactive":    "keep me",
		"other_ent":   "c-1",
		"dupe_name":   "Globex Corp",
	}
	off := mapping("account", "inactive", "industry", "", 1)
	off.Active = false
	draft, err := a.Apply(Input{
		Meta: canonical.SourceMeta{TenantID: "t1", SourceID: "erp", Entity: "companies"},
		Raw:  raw,
		Mappings: []*domain.MappingEntry{
			mapping("account", "AccountId", "id", "", 1),
			mapping("account", "Name", "name", "", 0.95),
			mapping("account", "dupe_name", "name", "", 0.90),
			mapping("contact", "other_ent", "id", "", 1),
			off,
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if draft.Entity != canonical.EntityAccount {
		t.Fatalf("expected inferred account target, got %s", draft.Entity)
	}
	if got := len(draft.Fields) + len(draft.UnmappedFields); got != len(raw) {
		t.Fatalf("field count mismatch: mapped=%v unmapped=%v", draft.Fields, draft.UnmappedFields)
	}
	for _, k := range []string{"legacy_code", "nested", "inactive", "other_ent", "dupe_name"} {
		if _, ok := draft.UnmappedFields[k]; !ok {
			t.Fatalf("expected %s in unmapped fields: %#v", k, draft.UnmappedFields)
		}
	}
	if draft.Fields["name"] != "Globex" {
		t.Fatalf("higher confidence mapping should win, got %v", draft.Fields["name"])
	}
}

func TestApplyCoercesAndClamps(t *testing.T) {
	a, _ := newApplicator(t)
	draft, err := a.Apply(Input{
		Meta: canonical.SourceMeta{TenantID: "t1", SourceID: "crm", Entity: "opportunity"},
		Raw: map[string]any{
			"opp_id":   7.0,
			"win_pct":  "140",
			"amount":   "$1,250.50",
			"close_on": "2025-03-01",
		},
		Mappings: []*domain.MappingEntry{
			mapping("opportunity", "opp_id", "id", "string", 1),
			mapping("opportunity", "win_pct", "probability", "number", 1),
			mapping("opportunity", "amount", "amount", "", 1),
			mapping("opportunity", "close_on", "close_date", "", 1),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if draft.Fields["id"] != "7" {
		t.Fatalf("id: %#v", draft.Fields["id"])
	}
	if draft.Fields["probability"] != 100.0 {
		t.Fatalf("probability should clamp to 100, got %#v", draft.Fields["probability"])
	}
	if draft.Fields["amount"] != 1250.50 {
		t.Fatalf("amount: %#v", draft.Fields["amount"])
	}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if ts, ok := draft.Fields["close_date"].(time.Time); !ok || !ts.Equal(want) {
		t.Fatalf("close_date: %#v", draft.Fields["close_date"])
	}
	if draft.SourceMeta.MappingVersions["probability"] != 1 {
		t.Fatalf("missing mapping version: %#v", draft.SourceMeta.MappingVersions)
	}
}

func TestApplyCoercionFailureDegradesToNil(t *testing.T) {
	a, _ := newApplicator(t)
	draft, err := a.Apply(Input{
		Meta: canonical.SourceMeta{TenantID: "t1", SourceID: "crm", Entity: "account"},
		Raw:  map[string]any{"id": "1", "employees": "lots"},
		Mappings: []*domain.MappingEntry{
			mapping("account", "id", "id", "", 1),
			mapping("account", "employees", "employee_count", "integer", 1),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, present := draft.Fields["employee_count"]
	if !present || v != nil {
		t.Fatalf("expected employee_count=nil, got %#v present=%v", v, present)
	}
	if len(draft.Failures) != 1 || draft.Failures[0].Value != "lots" {
		t.Fatalf("expected one failure keeping the raw value, got %#v", draft.Failures)
	}
}

func TestApplyUnknownTarget(t *testing.T) {
	a, _ := newApplicator(t)
	if _, err := a.Apply(Input{Meta: canonical.SourceMeta{Entity: "widgets"}, Raw: map[string]any{"x": 1}}); err == nil {
		t.Fatalf("expected error without a canonical target")
	}
	if _, err := a.Apply(Input{Target: "invoice", Raw: map[string]any{}}); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()
	cases := []struct {
		transform string
		in        any
		want      any
		wantErr   bool
	}{
		{TransformInteger, "1,200", int64(1200), false},
		{TransformInteger, 3.5, nil, true},
		{TransformBoolean, "Yes", true, false},
		{TransformBoolean, 0.0, false, false},
		{TransformBoolean, "maybe", nil, true},
		{TransformLower, "GOLD", "gold", false},
		{TransformUpper, "gold", "GOLD", false},
		{TransformTrim, "  x ", "x", false},
		{TransformString, true, "true", false},
		{TransformNumber, "12%", 12.0, false},
		{TransformNumber, []any{1}, nil, true},
		{"rot13", "x", nil, true},
		{TransformNumber, nil, nil, false},
	}
	for _, tc := range cases {
		got, err := Coerce(tc.transform, tc.in, nil)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Coerce(%q, %#v) err=%v wantErr=%v", tc.transform, tc.in, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("Coerce(%q, %#v)=%#v want %#v", tc.transform, tc.in, got, tc.want)
		}
	}

	ts, err := Coerce(TransformTimestamp, 1700000000000.0, nil)
	if err != nil || !ts.(time.Time).Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("epoch millis: %v %v", ts, err)
	}
	if !KnownTransform("lower") || KnownTransform("rot13") {
		t.Fatalf("KnownTransform mismatch")
	}
}
