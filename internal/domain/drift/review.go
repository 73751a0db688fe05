package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"

	ReviewReasonExpired = "expired"
)

const (
	ReviewKindMapping = "mapping"
	ReviewKindRemoval = "removal"
)

// ReviewItem is a queued proposal awaiting a human decision. Status only
// moves forward: pending -> approved | rejected.
type ReviewItem struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID string `gorm:"column:tenant_id;not null;index:idx_review_tenant_status,priority:1" json:"tenant_id"`
	SourceID string `gorm:"column:source_id;not null" json:"source_id"`
	Entity   string `gorm:"column:entity;not null" json:"entity"`
	Kind     string `gorm:"column:kind;not null" json:"kind"`

	TicketID       uuid.UUID      `gorm:"type:uuid;column:ticket_id;not null;index" json:"ticket_id"`
	MappingEntryID *uuid.UUID     `gorm:"type:uuid;column:mapping_entry_id" json:"mapping_entry_id,omitempty"`
	Proposal       datatypes.JSON `gorm:"column:proposal;type:jsonb" json:"proposal"`

	Status    string     `gorm:"column:status;not null;index:idx_review_tenant_status,priority:2" json:"status"`
	Reason    string     `gorm:"column:reason" json:"reason,omitempty"`
	DecidedBy string     `gorm:"column:decided_by" json:"decided_by,omitempty"`
	DecidedAt *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ReviewItem) TableName() string { return "review_item" }

// GateDecision is the audit row for every confidence-gate outcome, rejects included.
type GateDecision struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID   string    `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	TicketID   uuid.UUID `gorm:"type:uuid;column:ticket_id;not null;index" json:"ticket_id"`
	Action     string    `gorm:"column:action;not null;index" json:"action"`
	Confidence float64   `gorm:"column:confidence;not null" json:"confidence"`
	Method     string    `gorm:"column:method" json:"method,omitempty"`
	Reason     string    `gorm:"column:reason" json:"reason,omitempty"`

	Proposal       datatypes.JSON `gorm:"column:proposal;type:jsonb" json:"proposal"`
	MappingEntryID *uuid.UUID     `gorm:"type:uuid;column:mapping_entry_id" json:"mapping_entry_id,omitempty"`
	ReviewItemID   *uuid.UUID     `gorm:"type:uuid;column:review_item_id" json:"review_item_id,omitempty"`

	DecidedAt time.Time `gorm:"column:decided_at;not null;index" json:"decided_at"`
}

func (GateDecision) TableName() string { return "gate_decision" }

// KnowledgeEntry is one previously successful source-field to canonical-field
// pairing, scoped by tenant. It backs the similarity fast path.
type KnowledgeEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID        string `gorm:"column:tenant_id;not null;uniqueIndex:idx_knowledge_pair,priority:1" json:"tenant_id"`
	NormalizedName  string `gorm:"column:normalized_name;not null;uniqueIndex:idx_knowledge_pair,priority:2" json:"normalized_name"`
	CanonicalEntity string `gorm:"column:canonical_entity;not null;uniqueIndex:idx_knowledge_pair,priority:3" json:"canonical_entity"`
	CanonicalField  string `gorm:"column:canonical_field;not null;uniqueIndex:idx_knowledge_pair,priority:4" json:"canonical_field"`

	SourceField string `gorm:"column:source_field;not null" json:"source_field"`
	FieldType   string `gorm:"column:field_type" json:"field_type,omitempty"`
	Transform   string `gorm:"column:transform" json:"transform,omitempty"`
	Successes   int    `gorm:"column:successes;not null;default:1" json:"successes"`

	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	LastUsedAt time.Time `gorm:"column:last_used_at;not null" json:"last_used_at"`
}

func (KnowledgeEntry) TableName() string { return "knowledge_entry" }
