package drift

import (
	"time"

	"github.com/google/uuid"
)

type ChangeType string

const (
	ChangeEntityAdded           ChangeType = "entity_added"
	ChangeFieldAdded            ChangeType = "field_added"
	ChangeFieldRemovedOrRenamed ChangeType = "field_removed_or_renamed"
	ChangeTypeChanged           ChangeType = "type_changed"
)

const (
	TicketStatusOpen          = "open"
	TicketStatusApplied       = "applied"
	TicketStatusQueued        = "queued"
	TicketStatusRejected      = "rejected"
	TicketStatusInformational = "informational"
)

// DriftTicket records one structural change between two fingerprints.
// DedupeKey makes re-detection of the same change a no-op.
type DriftTicket struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID string `gorm:"column:tenant_id;not null;index:idx_ticket_key,priority:1" json:"tenant_id"`
	SourceID string `gorm:"column:source_id;not null;index:idx_ticket_key,priority:2" json:"source_id"`
	Entity   string `gorm:"column:entity;not null;index:idx_ticket_key,priority:3" json:"entity"`

	ChangeType ChangeType `gorm:"column:change_type;not null;index" json:"change_type"`
	FieldName  string     `gorm:"column:field_name" json:"field_name,omitempty"`
	OldValue   string     `gorm:"column:old_value" json:"old_value,omitempty"`
	NewValue   string     `gorm:"column:new_value" json:"new_value,omitempty"`
	Confidence float64    `gorm:"column:confidence;not null" json:"confidence"`
	Status     string     `gorm:"column:status;not null;index" json:"status"`
	DedupeKey  string     `gorm:"column:dedupe_key;not null;uniqueIndex" json:"-"`

	FingerprintID      uuid.UUID  `gorm:"type:uuid;column:fingerprint_id;not null;index" json:"fingerprint_id"`
	PriorFingerprintID *uuid.UUID `gorm:"type:uuid;column:prior_fingerprint_id" json:"prior_fingerprint_id,omitempty"`

	// SampleValues carries a few observed values for the slow path prompt.
	SampleValues string `gorm:"column:sample_values;type:text" json:"sample_values,omitempty"`

	DetectedAt time.Time `gorm:"column:detected_at;not null;index" json:"detected_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (DriftTicket) TableName() string { return "drift_ticket" }

// NeedsMapping reports whether the repair proposer should act on the ticket.
func (t *DriftTicket) NeedsMapping() bool {
	if t == nil {
		return false
	}
	switch t.ChangeType {
	case ChangeFieldAdded, ChangeTypeChanged, ChangeFieldRemovedOrRenamed:
		return true
	}
	return false
}
