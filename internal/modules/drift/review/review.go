// Package review owns the human review queue: enqueueing medium-confidence
// and ambiguous proposals, approving or rejecting them, and expiring the
// ones nobody decided in time.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Audit actions written for human and sweep decisions.
const (
	ActionApproved = "human_approved"
	ActionRejected = "human_rejected"
	ActionExpired  = "expired"
)

type Config struct {
	TTL       time.Duration
	SweepSize int
}

func DefaultConfig() Config {
	return Config{TTL: 7 * 24 * time.Hour, SweepSize: 500}
}

type Service struct {
	log       *logger.Logger
	reviews   repos.ReviewRepo
	tickets   repos.TicketRepo
	decisions repos.GateDecisionRepo
	registry  *registry.Registry
	cfg       Config
	now       func() time.Time
}

func New(log *logger.Logger, r repos.Repos, reg *registry.Registry, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SweepSize <= 0 {
		cfg.SweepSize = DefaultConfig().SweepSize
	}
	return &Service{
		log:       log.With("service", "ReviewService"),
		reviews:   r.Reviews,
		tickets:   r.Tickets,
		decisions: r.GateDecisions,
		registry:  reg,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue files a proposal for review. staged is the inactive registry
// version the approval will activate; it is nil for removals and for
// proposals without a canonical target.
func (s *Service) Enqueue(ctx context.Context, t *domain.DriftTicket, p *domain.MappingProposal, staged *domain.MappingEntry) (*domain.ReviewItem, error) {
	if t == nil || p == nil {
		return nil, drifterr.Invalid("ticket and proposal are required")
	}
	if strings.TrimSpace(t.TenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}
	kind := domain.ReviewKindMapping
	if p.Retire != "" && !p.Complete() {
		kind = domain.ReviewKindRemoval
	}
	item := &domain.ReviewItem{
		TenantID:  t.TenantID,
		SourceID:  t.SourceID,
		Entity:    t.Entity,
		Kind:      kind,
		TicketID:  t.ID,
		Proposal:  datatypes.JSON(raw),
		Status:    domain.ReviewStatusPending,
		ExpiresAt: s.now().Add(s.cfg.TTL),
	}
	if staged != nil {
		id := staged.ID
		item.MappingEntryID = &id
	}
	if err := s.reviews.Create(dbctx.Background(ctx), item); err != nil {
		return nil, fmt.Errorf("create review item: %w", err)
	}
	s.log.Info("proposal queued for review",
		"tenant_id", t.TenantID,
		"ticket_id", t.ID,
		"review_id", item.ID,
		"kind", kind,
		"confidence", p.Confidence,
	)
	return item, nil
}

// Overrides completes or corrects a proposal at approval time.
type Overrides struct {
	CanonicalEntity string  `json:"canonical_entity"`
	CanonicalField  string  `json:"canonical_field"`
	Transform       *string `json:"transform"`
}

func (o *Overrides) empty() bool {
	return o == nil || (o.CanonicalEntity == "" && o.CanonicalField == "" && o.Transform == nil)
}

type Outcome struct {
	Item    *domain.ReviewItem   `json:"item"`
	Mapping *domain.MappingEntry `json:"mapping,omitempty"`
	// Retired is true when an approved removal deactivated a mapping.
	Retired bool `json:"retired,omitempty"`
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ReviewItem, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	item, err := s.reviews.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, drifterr.NotFound("review item", id)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, tenantID, status string, limit int) ([]*domain.ReviewItem, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	switch status {
	case "", domain.ReviewStatusPending, domain.ReviewStatusApproved, domain.ReviewStatusRejected:
	default:
		return nil, drifterr.Invalid("unknown review status %q", status)
	}
	return s.reviews.List(dbctx.Background(ctx), tenantID, status, limit)
}

// Approve activates the reviewed proposal with approved_by set to actor. An
// approved removal deactivates the retired field's mapping.
func (s *Service) Approve(ctx context.Context, tenantID string, id uuid.UUID, actor string, ov *Overrides) (*Outcome, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, drifterr.Invalid("approver identity required")
	}
	item, err := s.pending(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	var p domain.MappingProposal
	if err := json.Unmarshal(item.Proposal, &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}

	// Claim the item before touching the registry. A concurrent Reject or
	// Sweep loses the conditional update instead of racing the activation.
	if err := s.decide(ctx, item, domain.ReviewStatusApproved, "", actor); err != nil {
		return nil, err
	}
	out := &Outcome{}
	if item.Kind == domain.ReviewKindRemoval {
		out.Retired, err = s.registry.DeactivateField(ctx, registry.FieldKey{
			TenantID: item.TenantID, SourceID: item.SourceID, Entity: item.Entity, SourceField: p.Retire,
		})
	} else {
		out.Mapping, err = s.activate(ctx, item, &p, actor, ov)
	}
	if err != nil {
		s.release(ctx, item, actor)
		return nil, err
	}

	if err := s.tickets.UpdateStatus(dbctx.Background(ctx), item.TenantID, item.TicketID, domain.TicketStatusApplied); err != nil {
		s.log.Warn("ticket status update failed", "ticket_id", item.TicketID, "error", err)
	}
	var entryID *uuid.UUID
	if out.Mapping != nil {
		entryID = &out.Mapping.ID
	}
	s.audit(ctx, item, &p, ActionApproved, "approved by "+actor, entryID)
	out.Item, _ = s.reviews.GetByID(dbctx.Background(ctx), item.TenantID, item.ID)
	return out, nil
}

func (s *Service) activate(ctx context.Context, item *domain.ReviewItem, p *domain.MappingProposal, actor string, ov *Overrides) (*domain.MappingEntry, error) {
	if item.MappingEntryID != nil && ov.empty() {
		return s.registry.Activate(ctx, item.TenantID, *item.MappingEntryID, actor)
	}
	method := p.Method
	if !ov.empty() {
		if ov.CanonicalEntity != "" {
			p.CanonicalEntity = ov.CanonicalEntity
		}
		if ov.CanonicalField != "" {
			p.CanonicalField = ov.CanonicalField
		}
		if ov.Transform != nil {
			p.Transform = *ov.Transform
		}
		method = domain.MethodManual
	}
	if !p.Complete() {
		return nil, drifterr.Invalid("proposal has no canonical target; supply canonical_entity and canonical_field")
	}
	ticketID := item.TicketID
	res, err := s.registry.Upsert(ctx, registry.UpsertRequest{
		Key: registry.FieldKey{
			TenantID: item.TenantID, SourceID: item.SourceID, Entity: item.Entity, SourceField: p.SourceField,
		},
		CanonicalEntity: p.CanonicalEntity,
		CanonicalField:  p.CanonicalField,
		Transform:       p.Transform,
		Confidence:      p.Confidence,
		Method:          method,
		ApprovedBy:      actor,
		TicketID:        &ticketID,
	})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

func (s *Service) Reject(ctx context.Context, tenantID string, id uuid.UUID, actor, reason string) (*domain.ReviewItem, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, drifterr.Invalid("reviewer identity required")
	}
	item, err := s.pending(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.decide(ctx, item, domain.ReviewStatusRejected, reason, actor); err != nil {
		return nil, err
	}
	if err := s.tickets.UpdateStatus(dbctx.Background(ctx), item.TenantID, item.TicketID, domain.TicketStatusRejected); err != nil {
		s.log.Warn("ticket status update failed", "ticket_id", item.TicketID, "error", err)
	}
	var p domain.MappingProposal
	_ = json.Unmarshal(item.Proposal, &p)
	s.audit(ctx, item, &p, ActionRejected, strings.TrimSpace("rejected by "+actor+" "+reason), item.MappingEntryID)
	return s.reviews.GetByID(dbctx.Background(ctx), item.TenantID, item.ID)
}

// Sweep rejects pending items past their TTL. Running it twice is harmless
// and an expired item never returns to pending.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for {
		expired, err := s.reviews.ExpireDue(dbctx.Background(ctx), now, s.cfg.SweepSize)
		if err != nil {
			return total, fmt.Errorf("expire reviews: %w", err)
		}
		for _, item := range expired {
			if err := s.tickets.UpdateStatus(dbctx.Background(ctx), item.TenantID, item.TicketID, domain.TicketStatusRejected); err != nil {
				s.log.Warn("ticket status update failed", "ticket_id", item.TicketID, "error", err)
			}
			var p domain.MappingProposal
			_ = json.Unmarshal(item.Proposal, &p)
			s.audit(ctx, item, &p, ActionExpired, "review ttl elapsed", item.MappingEntryID)
		}
		total += len(expired)
		if len(expired) < s.cfg.SweepSize {
			break
		}
	}
	observability.Current().AddReviewExpired(int64(total))
	if total > 0 {
		s.log.Info("review items expired", "count", total)
	}
	return total, nil
}

func (s *Service) pending(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ReviewItem, error) {
	item, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.ReviewStatusPending {
		return nil, fmt.Errorf("review %s is %s: %w", id, item.Status, drifterr.ErrAlreadyDecided)
	}
	if !item.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("review %s expired: %w", id, drifterr.ErrAlreadyDecided)
	}
	return item, nil
}

func (s *Service) decide(ctx context.Context, item *domain.ReviewItem, status, reason, actor string) error {
	n, err := s.reviews.Decide(dbctx.Background(ctx), item.TenantID, item.ID, status, reason, actor)
	if err != nil {
		return fmt.Errorf("decide review: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("review %s: %w", item.ID, drifterr.ErrAlreadyDecided)
	}
	return nil
}

// release hands a claimed item back to the queue after a failed registry write.
func (s *Service) release(ctx context.Context, item *domain.ReviewItem, actor string) {
	n, err := s.reviews.Reopen(dbctx.Background(context.WithoutCancel(ctx)), item.TenantID, item.ID, actor)
	if err != nil || n == 0 {
		s.log.Error("review claim not released", "review_id", item.ID, "rows", n, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, item *domain.ReviewItem, p *domain.MappingProposal, action, reason string, entryID *uuid.UUID) {
	reviewID := item.ID
	row := &domain.GateDecision{
		TenantID:       item.TenantID,
		TicketID:       item.TicketID,
		Action:         action,
		Confidence:     p.Confidence,
		Method:         p.Method,
		Reason:         reason,
		Proposal:       item.Proposal,
		MappingEntryID: entryID,
		ReviewItemID:   &reviewID,
	}
	if err := s.decisions.Create(dbctx.Background(ctx), row); err != nil {
		s.log.Warn("decision audit failed", "review_id", item.ID, "error", err)
	}
}
