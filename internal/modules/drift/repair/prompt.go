package repair

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
)

const schemaName = "drift_mapping_proposal_v1"

var transforms = []any{
	applicator.TransformNone, applicator.TransformNumber, applicator.TransformInteger,
	applicator.TransformTimestamp, applicator.TransformString, applicator.TransformBoolean,
	applicator.TransformLower, applicator.TransformUpper, applicator.TransformTrim,
}

func proposalSchema(contracts *contract.Set) map[string]any {
	entities := []any{}
	for _, e := range contracts.Entities() {
		entities = append(entities, string(e))
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"canonical_entity": map[string]any{"type": "string", "enum": entities},
			"canonical_field":  map[string]any{"type": "string"},
			"transform":        map[string]any{"type": "string", "enum": transforms},
			"rationale":        map[string]any{"type": "string"},
		},
		"required": []any{"canonical_entity", "canonical_field", "transform", "rationale"},
	}
}

type generated struct {
	CanonicalEntity string `json:"canonical_entity"`
	CanonicalField  string `json:"canonical_field"`
	Transform       string `json:"transform"`
	Rationale       string `json:"rationale"`
}

func systemPrompt() string {
	return strings.Join([]string{
		"You map fields from business source systems onto a fixed canonical schema.",
		"Pick the single canonical field that holds the same information as the source field.",
		"Only use entities and fields listed in CANONICAL_SCHEMA.",
		"If no canonical field fits, return an empty canonical_field.",
		"Choose a transform only when the source values need coercion to the canonical type.",
		"Return ONLY JSON matching the schema.",
	}, "\n")
}

func userPrompt(contracts *contract.Set, req Request, fieldType string, candidates []similarity.Match) string {
	var schema strings.Builder
	for _, e := range contracts.Entities() {
		ec, _ := contracts.Entity(e)
		for _, f := range ec.Fields {
			fmt.Fprintf(&schema, "- %s.%s (%s)\n", e, f.Name, f.Type)
		}
	}
	var cands strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&cands, "- %s.%s score=%.2f\n", c.CanonicalEntity, c.CanonicalField, c.Score)
	}
	samples, _ := json.Marshal(req.samples())
	return strings.TrimSpace(strings.Join([]string{
		"SOURCE_ENTITY: " + req.Ticket.Entity,
		"SOURCE_FIELD: " + req.Ticket.FieldName,
		"OBSERVED_TYPE: " + defaultString(fieldType, "unknown"),
		"SAMPLE_VALUES: " + string(samples),
		"",
		"NEAREST_CANDIDATES:",
		defaultString(strings.TrimSpace(cands.String()), "(none)"),
		"",
		"CANONICAL_SCHEMA:",
		strings.TrimSpace(schema.String()),
	}, "\n"))
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
