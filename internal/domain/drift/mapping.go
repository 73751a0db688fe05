package drift

import (
	"time"

	"github.com/google/uuid"
)

const (
	MethodSimilarity = "similarity"
	MethodGenerative = "generative"
	MethodManual     = "manual"
	MethodCarryOver  = "carry_over"
)

// MappingEntry is one version of a source-field rule. At most one version per
// (tenant, source, entity, source_field) is active; older versions are kept
// for rollback.
type MappingEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID    string `gorm:"column:tenant_id;not null;uniqueIndex:idx_mapping_version,priority:1;uniqueIndex:idx_mapping_active,priority:1,where:active = true" json:"tenant_id"`
	SourceID    string `gorm:"column:source_id;not null;uniqueIndex:idx_mapping_version,priority:2;uniqueIndex:idx_mapping_active,priority:2,where:active = true" json:"source_id"`
	Entity      string `gorm:"column:entity;not null;uniqueIndex:idx_mapping_version,priority:3;uniqueIndex:idx_mapping_active,priority:3,where:active = true" json:"entity"`
	SourceField string `gorm:"column:source_field;not null;uniqueIndex:idx_mapping_version,priority:4;uniqueIndex:idx_mapping_active,priority:4,where:active = true" json:"source_field"`
	Version     int    `gorm:"column:version;not null;uniqueIndex:idx_mapping_version,priority:5" json:"version"`

	CanonicalEntity string  `gorm:"column:canonical_entity;not null" json:"canonical_entity"`
	CanonicalField  string  `gorm:"column:canonical_field;not null" json:"canonical_field"`
	Transform       string  `gorm:"column:transform" json:"transform,omitempty"`
	Confidence      float64 `gorm:"column:confidence;not null" json:"confidence"`
	Method          string  `gorm:"column:method" json:"method,omitempty"`

	Active     bool       `gorm:"column:active;not null;default:false;index" json:"active"`
	ApprovedBy string     `gorm:"column:approved_by" json:"approved_by,omitempty"`
	TicketID   *uuid.UUID `gorm:"type:uuid;column:ticket_id;index" json:"ticket_id,omitempty"`

	CreatedAt     time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	ActivatedAt   *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
}

func (MappingEntry) TableName() string { return "mapping_entry" }

// SameRule reports whether two entries map to the same target the same way.
func (m *MappingEntry) SameRule(o *MappingEntry) bool {
	if m == nil || o == nil {
		return false
	}
	return m.CanonicalEntity == o.CanonicalEntity &&
		m.CanonicalField == o.CanonicalField &&
		m.Transform == o.Transform
}

// MappingProposal is transient. It becomes a MappingEntry, a ReviewItem, or
// an audited rejection.
type MappingProposal struct {
	TicketID        uuid.UUID `json:"ticket_id"`
	SourceField     string    `json:"source_field"`
	CanonicalEntity string    `json:"canonical_entity"`
	CanonicalField  string    `json:"canonical_field"`
	Transform       string    `json:"transform,omitempty"`
	Confidence      float64   `json:"confidence"`
	Rationale       string    `json:"rationale"`
	Method          string    `json:"method"`

	// Retire names a source field whose active mapping should be deactivated
	// when the proposal is approved.
	Retire string `json:"retire,omitempty"`
	// Ambiguous and TimedOut force review regardless of confidence.
	Ambiguous bool `json:"ambiguous,omitempty"`
	TimedOut  bool `json:"timed_out,omitempty"`
}

// Complete reports whether the proposal names a canonical target.
func (p *MappingProposal) Complete() bool {
	return p != nil && p.CanonicalEntity != "" && p.CanonicalField != ""
}
