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

type TicketFilter struct {
	SourceID string
	Entity   string
	Status   string
	Limit    int
}

type TicketRepo interface {
	// CreateIfAbsent inserts the ticket unless one with the same dedupe key
	// exists. It reports whether a row was written.
	CreateIfAbsent(dbc dbctx.Context, row *domain.DriftTicket) (bool, error)
	GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.DriftTicket, error)
	List(dbc dbctx.Context, tenantID string, f TicketFilter) ([]*domain.DriftTicket, error)
	UpdateStatus(dbc dbctx.Context, tenantID string, id uuid.UUID, status string) error
}

type ticketRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTicketRepo(db *gorm.DB, baseLog *logger.Logger) TicketRepo {
	return &ticketRepo{db: db, log: baseLog.With("repo", "TicketRepo")}
}

func (r *ticketRepo) CreateIfAbsent(dbc dbctx.Context, row *domain.DriftTicket) (bool, error) {
	if row == nil {
		return false, nil
	}
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.DetectedAt.IsZero() {
		row.DetectedAt = now
	}
	row.UpdatedAt = now
	if row.Status == "" {
		row.Status = domain.TicketStatusOpen
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ticketRepo) GetByID(dbc dbctx.Context, tenantID string, id uuid.UUID) (*domain.DriftTicket, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row domain.DriftTicket
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

func (r *ticketRepo) List(dbc dbctx.Context, tenantID string, f TicketFilter) ([]*domain.DriftTicket, error) {
	q := dbc.DB(r.db).Where("tenant_id = ?", tenantID)
	if f.SourceID != "" {
		q = q.Where("source_id = ?", f.SourceID)
	}
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []*domain.DriftTicket{}
	err := q.Order("detected_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *ticketRepo) UpdateStatus(dbc dbctx.Context, tenantID string, id uuid.UUID, status string) error {
	return dbc.DB(r.db).
		Model(&domain.DriftTicket{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}
