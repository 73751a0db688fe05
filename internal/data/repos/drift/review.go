package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type ReviewRepo interface {
	Create(dbc dbctx.Context, row *domain.ReviewItem) error
	GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.ReviewItem, error)
	List(dbc dbctx.Context, tenantID, status string, limit int) ([]*domain.ReviewItem, error)
	// Decide moves a pending item to status. Zero rows means it was no longer pending.
	Decide(dbc dbctx.Context, tenantID string, id uuid.UUID, status, reason, decidedBy string) (int64, error)
	// Reopen returns an item that decidedBy approved to pending. It undoes an
	// approval claim whose registry write failed.
	Reopen(dbc dbctx.Context, tenantID string, id uuid.UUID, decidedBy string) (int64, error)
	// ExpireDue rejects up to limit pending items whose TTL has passed and
	// returns the items it moved.
	ExpireDue(dbc dbctx.Context, now time.Time, limit int) ([]*domain.ReviewItem, error)
}

type reviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReviewRepo(db *gorm.DB, baseLog *logger.Logger) ReviewRepo {
	return &reviewRepo{db: db, log: baseLog.With("repo", "ReviewRepo")}
}

func (r *reviewRepo) Create(dbc dbctx.Context, row *domain.ReviewItem) error {
	if row == nil {
		return nil
	}
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Status == "" {
		row.Status = domain.ReviewStatusPending
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *reviewRepo) GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.ReviewItem, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row domain.ReviewItem
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

func (r *reviewRepo) List(dbc dbctx.Context, tenantID, status string, limit int) ([]*domain.ReviewItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := dbc.DB(r.db).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	out := []*domain.ReviewItem{}
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *reviewRepo) Decide(dbc dbctx.Context, tenantID string, id uuid.UUID, status, reason, decidedBy string) (int64, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&domain.ReviewItem{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, domain.ReviewStatusPending).
		Updates(map[string]any{
			"status":     status,
			"reason":     reason,
			"decided_by": decidedBy,
			"decided_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *reviewRepo) Reopen(dbc dbctx.Context, tenantID string, id uuid.UUID, decidedBy string) (int64, error) {
	res := dbc.DB(r.db).
		Model(&domain.ReviewItem{}).
		Where("tenant_id = ? AND id = ? AND status = ? AND decided_by = ?", tenantID, id, domain.ReviewStatusApproved, decidedBy).
		Updates(map[string]any{
			"status":     domain.ReviewStatusPending,
			"reason":     "",
			"decided_by": "",
			"decided_at": nil,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *reviewRepo) ExpireDue(dbc dbctx.Context, now time.Time, limit int) ([]*domain.ReviewItem, error) {
	if limit <= 0 {
		limit = 500
	}
	due := []*domain.ReviewItem{}
	err := dbc.DB(r.db).
		Where("status = ? AND expires_at <= ?", domain.ReviewStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ReviewItem, 0, len(due))
	for _, item := range due {
		res := dbc.DB(r.db).
			Model(&domain.ReviewItem{}).
			Where("id = ? AND status = ?", item.ID, domain.ReviewStatusPending).
			Updates(map[string]any{
				"status":     domain.ReviewStatusRejected,
				"reason":     domain.ReviewReasonExpired,
				"decided_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return out, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		item.Status = domain.ReviewStatusRejected
		item.Reason = domain.ReviewReasonExpired
		decided := now
		item.DecidedAt = &decided
		out = append(out, item)
	}
	return out, nil
}
