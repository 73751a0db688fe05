package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type FingerprintRepo interface {
	Create(dbc dbctx.Context, row *domain.Fingerprint) error
	Latest(dbc dbctx.Context, tenantID, sourceID, entity string) (*domain.Fingerprint, error)
	History(dbc dbctx.Context, tenantID, sourceID, entity string, limit int) ([]*domain.Fingerprint, error)
	KnownEntities(dbc dbctx.Context, tenantID, sourceID string) ([]string, error)
}

type fingerprintRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFingerprintRepo(db *gorm.DB, baseLog *logger.Logger) FingerprintRepo {
	return &fingerprintRepo{db: db, log: baseLog.With("repo", "FingerprintRepo")}
}

func (r *fingerprintRepo) Create(dbc dbctx.Context, row *domain.Fingerprint) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CapturedAt.IsZero() {
		row.CapturedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *fingerprintRepo) Latest(dbc dbctx.Context, tenantID, sourceID, entity string) (*domain.Fingerprint, error) {
	var row domain.Fingerprint
	err := dbc.DB(r.db).
		Where("tenant_id = ? AND source_id = ? AND entity = ?", tenantID, sourceID, entity).
		Order("captured_at DESC").
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

func (r *fingerprintRepo) History(dbc dbctx.Context, tenantID, sourceID, entity string, limit int) ([]*domain.Fingerprint, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := []*domain.Fingerprint{}
	err := dbc.DB(r.db).
		Where("tenant_id = ? AND source_id = ? AND entity = ?", tenantID, sourceID, entity).
		Order("captured_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *fingerprintRepo) KnownEntities(dbc dbctx.Context, tenantID, sourceID string) ([]string, error) {
	out := []string{}
	err := dbc.DB(r.db).
		Model(&domain.Fingerprint{}).
		Where("tenant_id = ? AND source_id = ?", tenantID, sourceID).
		Distinct().
		Pluck("entity", &out).Error
	return out, err
}
