package drift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type GateDecisionRepo interface {
	Create(dbc dbctx.Context, row *domain.GateDecision) error
	ListByTicket(dbc dbctx.Context, tenantID string, ticketID uuid.UUID) ([]*domain.GateDecision, error)
}

type gateDecisionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGateDecisionRepo(db *gorm.DB, baseLog *logger.Logger) GateDecisionRepo {
	return &gateDecisionRepo{db: db, log: baseLog.With("repo", "GateDecisionRepo")}
}

func (r *gateDecisionRepo) Create(dbc dbctx.Context, row *domain.GateDecision) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.DecidedAt.IsZero() {
		row.DecidedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *gateDecisionRepo) ListByTicket(dbc dbctx.Context, tenantID string, ticketID uuid.UUID) ([]*domain.GateDecision, error) {
	out := []*domain.GateDecision{}
	err := dbc.DB(r.db).
		Where("tenant_id = ? AND ticket_id = ?", tenantID, ticketID).
		Order("decided_at ASC").
		Find(&out).Error
	return out, err
}
