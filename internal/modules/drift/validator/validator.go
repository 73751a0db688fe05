// Package validator enforces the canonical entity contracts. A draft passes
// whole or is rejected whole with every violation listed.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Constraint names reported in violations.
const (
	ConstraintKnownEntity  = "known_entity"
	ConstraintRequired     = "required"
	ConstraintUnknownField = "unknown_field"
	ConstraintType         = "type"
	ConstraintMin          = "min"
	ConstraintMax          = "max"
	ConstraintNonNegative  = "non_negative"
	ConstraintEnum         = "enum"
	ConstraintFormat       = "format"
	ConstraintShape        = "payload_shape"
	ConstraintOp           = "op"
)

type Validator struct {
	log       *logger.Logger
	contracts *contract.Set
}

func New(log *logger.Logger, contracts *contract.Set) *Validator {
	return &Validator{log: log.With("component", "Validator"), contracts: contracts}
}

// Validate checks d against its entity contract and returns the typed record.
// d is never modified.
func (v *Validator) Validate(d *canonical.Draft) (*canonical.Record, error) {
	if d == nil {
		return nil, drifterr.Invalid("nil draft")
	}
	ec, ok := v.contracts.Entity(d.Entity)
	if !ok {
		return nil, v.reject(d, []drifterr.Violation{{Field: "entity", Constraint: ConstraintKnownEntity, Actual: d.Entity}})
	}
	op := d.Op
	if op == "" {
		op = canonical.OpUpsert
	}

	var violations []drifterr.Violation
	if op != canonical.OpUpsert && op != canonical.OpDelete {
		violations = append(violations, drifterr.Violation{Field: "op", Constraint: ConstraintOp, Actual: d.Op})
	}
	for i := range ec.Fields {
		spec := &ec.Fields[i]
		required := spec.Required
		if op == canonical.OpDelete {
			required = spec.Name == ec.Key
		}
		if required && isBlank(d.Fields[spec.Name]) {
			violations = append(violations, drifterr.Violation{Field: spec.Name, Constraint: ConstraintRequired, Actual: d.Fields[spec.Name]})
		}
	}

	names := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		val := d.Fields[name]
		spec, ok := ec.Field(name)
		if !ok {
			violations = append(violations, drifterr.Violation{Field: name, Constraint: ConstraintUnknownField, Actual: val})
			continue
		}
		if val == nil {
			continue
		}
		violations = append(violations, checkField(spec, val)...)
	}

	if len(violations) == 0 {
		payload, err := decodePayload(d.Entity, d.Fields)
		if err != nil {
			violations = append(violations, drifterr.Violation{Field: "data", Constraint: ConstraintShape, Actual: err.Error()})
		} else {
			return &canonical.Record{
				Entity:         d.Entity,
				Op:             op,
				Data:           payload,
				UnmappedFields: copyMap(d.UnmappedFields),
				SourceMeta:     d.SourceMeta,
				TraceID:        d.TraceID,
			}, nil
		}
	}
	return nil, v.reject(d, violations)
}

func (v *Validator) reject(d *canonical.Draft, violations []drifterr.Violation) error {
	for _, vi := range violations {
		observability.Current().IncValidationFailure(string(d.Entity), vi.Constraint)
	}
	v.log.Debug("record rejected",
		"tenant_id", d.SourceMeta.TenantID,
		"source_id", d.SourceMeta.SourceID,
		"entity", d.Entity,
		"violations", len(violations),
	)
	return &drifterr.ValidationError{Entity: string(d.Entity), Violations: violations}
}

func checkField(spec *contract.FieldSpec, val any) []drifterr.Violation {
	bad := func(constraint string) []drifterr.Violation {
		return []drifterr.Violation{{Field: spec.Name, Constraint: constraint, Actual: val}}
	}
	switch spec.Type {
	case contract.TypeString:
		s, ok := val.(string)
		if !ok {
			return bad(ConstraintType)
		}
		var out []drifterr.Violation
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			out = append(out, bad(ConstraintEnum)...)
		}
		if spec.Format == "email" && !validEmail(s) {
			out = append(out, drifterr.Violation{Field: spec.Name, Constraint: ConstraintFormat + ":email", Actual: val})
		}
		return out
	case contract.TypeNumber, contract.TypeInteger:
		n, ok := number(val)
		if !ok {
			return bad(ConstraintType)
		}
		if spec.Type == contract.TypeInteger && n != math.Trunc(n) {
			return bad(ConstraintType)
		}
		var out []drifterr.Violation
		if spec.NonNegative && n < 0 {
			out = append(out, bad(ConstraintNonNegative)...)
		}
		if spec.Min != nil && n < *spec.Min {
			out = append(out, bad(ConstraintMin)...)
		}
		if spec.Max != nil && n > *spec.Max {
			out = append(out, bad(ConstraintMax)...)
		}
		return out
	case contract.TypeBoolean:
		if _, ok := val.(bool); !ok {
			return bad(ConstraintType)
		}
	case contract.TypeTimestamp:
		switch t := val.(type) {
		case time.Time:
		case *time.Time:
			if t == nil {
				return bad(ConstraintType)
			}
		default:
			return bad(ConstraintType)
		}
	}
	return nil
}

// decodePayload re-decodes the fields into the entity's typed payload,
// rejecting any key the payload does not declare.
func decodePayload(entity canonical.Entity, fields map[string]any) (canonical.Payload, error) {
	payload, err := canonical.NewPayload(entity)
	if err != nil {
		return nil, err
	}
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func contains(set []string, s string) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
