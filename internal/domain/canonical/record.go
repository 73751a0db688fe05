package canonical

import (
	"encoding/json"
	"fmt"
	"time"
)

type Entity string

const (
	EntityAccount     Entity = "account"
	EntityContact     Entity = "contact"
	EntityOpportunity Entity = "opportunity"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case "", OpUpsert:
		return OpUpsert, nil
	case OpDelete:
		return OpDelete, nil
	}
	return "", fmt.Errorf("unknown op %q", s)
}

// Payload is the closed set of typed canonical payloads.
type Payload interface {
	EntityName() Entity
	Key() string
}

// NewPayload returns an empty payload for entity, ready to be decoded into.
func NewPayload(entity Entity) (Payload, error) {
	switch entity {
	case EntityAccount:
		return &Account{}, nil
	case EntityContact:
		return &Contact{}, nil
	case EntityOpportunity:
		return &Opportunity{}, nil
	}
	return nil, fmt.Errorf("unknown canonical entity %q", entity)
}

type SourceMeta struct {
	TenantID   string    `json:"tenant_id"`
	SourceID   string    `json:"source_id"`
	Entity     string    `json:"entity"`
	ReceivedAt time.Time `json:"received_at"`
	// MappingVersions records which registry version produced each canonical field.
	MappingVersions map[string]int `json:"mapping_versions,omitempty"`
}

// Record is a validated, emittable canonical record. UnmappedFields holds
// every source field that had no active mapping, verbatim.
type Record struct {
	Entity         Entity         `json:"entity"`
	Op             Op             `json:"op"`
	Data           Payload        `json:"data"`
	UnmappedFields map[string]any `json:"unmapped_fields"`
	SourceMeta     SourceMeta     `json:"source_meta"`
	TraceID        string         `json:"trace_id,omitempty"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		Entity         Entity          `json:"entity"`
		Op             Op              `json:"op"`
		Data           json.RawMessage `json:"data"`
		UnmappedFields map[string]any  `json:"unmapped_fields"`
		SourceMeta     SourceMeta      `json:"source_meta"`
		TraceID        string          `json:"trace_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	payload, err := NewPayload(raw.Entity)
	if err != nil {
		return err
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Entity, err)
		}
	}
	*r = Record{
		Entity:         raw.Entity,
		Op:             raw.Op,
		Data:           payload,
		UnmappedFields: raw.UnmappedFields,
		SourceMeta:     raw.SourceMeta,
		TraceID:        raw.TraceID,
	}
	return nil
}

// Draft is the applicator's output: canonical field names with coerced
// values, not yet checked against the entity contract.
type Draft struct {
	Entity         Entity
	Op             Op
	Fields         map[string]any
	UnmappedFields map[string]any
	SourceMeta     SourceMeta
	TraceID        string
	// Failures lists mapped fields whose coercion failed and were set to nil.
	Failures []FieldFailure
}

// FieldFailure keeps the raw value of a field the applicator could not coerce.
type FieldFailure struct {
	SourceField    string `json:"source_field"`
	CanonicalField string `json:"canonical_field"`
	Transform      string `json:"transform"`
	Value          any    `json:"value"`
	Error          string `json:"error"`
}
