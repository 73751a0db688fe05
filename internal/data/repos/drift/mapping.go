package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// FieldKey addresses one source field's mapping history.
type FieldKey struct {
	TenantID    string
	SourceID    string
	Entity      string
	SourceField string
}

type MappingRepo interface {
	Create(dbc dbctx.Context, row *domain.MappingEntry) error
	GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.MappingEntry, error)
	GetActive(dbc dbctx.Context, key FieldKey) (*domain.MappingEntry, error)
	ListActive(dbc dbctx.Context, tenantID, sourceID, entity string) ([]*domain.MappingEntry, error)
	Versions(dbc dbctx.Context, key FieldKey) ([]*domain.MappingEntry, error)
	MaxVersion(dbc dbctx.Context, key FieldKey) (int, error)
	// DeactivateKey clears the active flag for key, returning rows changed.
	DeactivateKey(dbc dbctx.Context, key FieldKey) (int64, error)
	// MarkActive flips one inactive row to active, returning rows changed.
	MarkActive(dbc dbctx.Context, tenantID string, id uuid.UUID, approvedBy string) (int64, error)
	Deactivate(dbc dbctx.Context, tenantID string, id uuid.UUID) (int64, error)
}

type mappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMappingRepo(db *gorm.DB, baseLog *logger.Logger) MappingRepo {
	return &mappingRepo{db: db, log: baseLog.With("repo", "MappingRepo")}
}

func keyWhere(q *gorm.DB, key FieldKey) *gorm.DB {
	return q.Where("tenant_id = ? AND source_id = ? AND entity = ? AND source_field = ?",
		key.TenantID, key.SourceID, key.Entity, key.SourceField)
}

func (r *mappingRepo) Create(dbc dbctx.Context, row *domain.MappingEntry) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *mappingRepo) GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.MappingEntry, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row domain.MappingEntry
	err := dbc.DB(r.db).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *mappingRepo) GetActive(dbc dbctx.Context, key FieldKey) (*domain.MappingEntry, error) {
	var row domain.MappingEntry
	err := keyWhere(dbc.DB(r.db), key).
		Where("active = ?", true).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *mappingRepo) ListActive(dbc dbctx.Context, tenantID, sourceID, entity string) ([]*domain.MappingEntry, error) {
	out := []*domain.MappingEntry{}
	err := dbc.DB(r.db).
		Where("tenant_id = ? AND source_id = ? AND entity = ? AND active = ?", tenantID, sourceID, entity, true).
		Order("source_field ASC").
		Find(&out).Error
	return out, err
}

func (r *mappingRepo) Versions(dbc dbctx.Context, key FieldKey) ([]*domain.MappingEntry, error) {
	out := []*domain.MappingEntry{}
	err := keyWhere(dbc.DB(r.db), key).Order("version DESC").Find(&out).Error
	return out, err
}

func (r *mappingRepo) MaxVersion(dbc dbctx.Context, key FieldKey) (int, error) {
	var max int
	err := keyWhere(dbc.DB(r.db).Model(&domain.MappingEntry{}), key).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, err
}

func (r *mappingRepo) DeactivateKey(dbc dbctx.Context, key FieldKey) (int64, error) {
	res := keyWhere(dbc.DB(r.db).Model(&domain.MappingEntry{}), key).
		Where("active = ?", true).
		Updates(map[string]any{"active": false, "deactivated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *mappingRepo) MarkActive(dbc dbctx.Context, tenantID string, id uuid.UUID, approvedBy string) (int64, error) {
	updates := map[string]any{
		"active":         true,
		"activated_at":   time.Now().UTC(),
		"deactivated_at": nil,
	}
	if approvedBy != "" {
		updates["approved_by"] = approvedBy
	}
	res := dbc.DB(r.db).
		Model(&domain.MappingEntry{}).
		Where("tenant_id = ? AND id = ? AND active = ?", tenantID, id, false).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *mappingRepo) Deactivate(dbc dbctx.Context, tenantID string, id uuid.UUID) (int64, error) {
	res := dbc.DB(r.db).
		Model(&domain.MappingEntry{}).
		Where("tenant_id = ? AND id = ? AND active = ?", tenantID, id, true).
		Updates(map[string]any{"active": false, "deactivated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
