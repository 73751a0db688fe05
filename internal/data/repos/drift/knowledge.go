package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type KnowledgeRepo interface {
	// Record inserts the pairing or bumps its success count.
	Record(dbc dbctx.Context, row *domain.KnowledgeEntry) error
	ListByTenant(dbc dbctx.Context, tenantID string) ([]*domain.KnowledgeEntry, error)
}

type knowledgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeRepo {
	return &knowledgeRepo{db: db, log: baseLog.With("repo", "KnowledgeRepo")}
}

func (r *knowledgeRepo) Record(dbc dbctx.Context, row *domain.KnowledgeEntry) error {
	if row == nil || row.TenantID == "" || row.NormalizedName == "" {
		return nil
	}
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.LastUsedAt = now
	if row.Successes <= 0 {
		row.Successes = 1
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "normalized_name"},
				{Name: "canonical_entity"},
				{Name: "canonical_field"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"successes":    gorm.Expr("knowledge_entry.successes + 1"),
				"last_used_at": now,
				"transform":    row.Transform,
				"field_type":   row.FieldType,
			}),
		}).
		Create(row).Error
}

func (r *knowledgeRepo) ListByTenant(dbc dbctx.Context, tenantID string) ([]*domain.KnowledgeEntry, error) {
	out := []*domain.KnowledgeEntry{}
	err := dbc.DB(r.db).
		Where("tenant_id = ?", tenantID).
		Order("successes DESC").
		Find(&out).Error
	return out, err
}
