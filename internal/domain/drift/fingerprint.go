package drift

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FingerprintMethodCatalog = "catalog"
	FingerprintMethodSample  = "sample"
)

// FieldShape is the structural summary of one field. TypeDistribution counts
// observed value types across sampled records; catalog captures leave it empty.
type FieldShape struct {
	Type             string         `json:"type"`
	Nullable         bool           `json:"nullable"`
	TypeDistribution map[string]int `json:"type_distribution,omitempty"`
}

// Fingerprint is immutable once stored. A newer capture for the same
// (tenant, source, entity) supersedes it; older rows are kept as history.
type Fingerprint struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	TenantID string `gorm:"column:tenant_id;not null;index:idx_fingerprint_key,priority:1" json:"tenant_id"`
	SourceID string `gorm:"column:source_id;not null;index:idx_fingerprint_key,priority:2" json:"source_id"`
	Entity   string `gorm:"column:entity;not null;index:idx_fingerprint_key,priority:3" json:"entity"`

	Fields     datatypes.JSON `gorm:"column:fields;type:jsonb;not null" json:"fields"`
	Hash       string         `gorm:"column:hash;not null;index" json:"hash"`
	Method     string         `gorm:"column:method;not null" json:"method"`
	SampleSize int            `gorm:"column:sample_size;not null;default:0" json:"sample_size"`

	CapturedAt time.Time `gorm:"column:captured_at;not null;index:idx_fingerprint_key,priority:4" json:"captured_at"`
}

func (Fingerprint) TableName() string { return "drift_fingerprint" }

func (f *Fingerprint) FieldMap() (map[string]FieldShape, error) {
	out := map[string]FieldShape{}
	if f == nil || len(f.Fields) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(f.Fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}
