package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/gate"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
)

// repair proposes a mapping for t, routes it through the gate, carries out
// the decision and writes the audit row.
func (s *Service) repair(ctx context.Context, t *domain.DriftTicket) (*TicketOutcome, error) {
	key := registry.FieldKey{TenantID: t.TenantID, SourceID: t.SourceID, Entity: t.Entity, SourceField: t.FieldName}
	current, err := s.registry.Lookup(ctx, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	target := s.Target(t.TenantID, t.SourceID, t.Entity)
	if target == "" && current != nil {
		target = canonical.Entity(current.CanonicalEntity)
	}
	prop, err := s.proposer.Propose(ctx, repair.Request{Ticket: t, Current: current, Target: target})
	if err != nil {
		return nil, err
	}
	dec := s.gate.Route(prop)
	out := &TicketOutcome{Ticket: t, Proposal: prop}

	status := domain.TicketStatusRejected
	switch dec.Action {
	case gate.ActionAutoApply:
		res, err := s.registry.Upsert(ctx, s.upsertRequest(key, t, prop))
		if err != nil {
			return nil, fmt.Errorf("apply mapping: %w", err)
		}
		out.Mapping = res.Entry
		status = domain.TicketStatusApplied

	case gate.ActionQueueForReview:
		var staged *domain.MappingEntry
		if prop.Complete() {
			staged, err = s.registry.Stage(ctx, s.upsertRequest(key, t, prop))
			if err != nil {
				return nil, fmt.Errorf("stage mapping: %w", err)
			}
			out.Mapping = staged
		}
		item, err := s.review.Enqueue(ctx, t, prop, staged)
		if err != nil {
			return nil, err
		}
		out.Review = item
		status = domain.TicketStatusQueued
	}

	dbc := dbctx.Background(ctx)
	if err := s.repos.Tickets.UpdateStatus(dbc, t.TenantID, t.ID, status); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	t.Status = status

	out.Decision = s.audit(ctx, t, prop, dec, out)
	observability.Current().IncGateDecision(string(dec.Action))
	s.log.Info("gate decision",
		"tenant_id", t.TenantID,
		"source_id", t.SourceID,
		"entity", t.Entity,
		"ticket_id", t.ID,
		"field", t.FieldName,
		"action", dec.Action,
		"confidence", prop.Confidence,
		"method", prop.Method,
		"reason", dec.Reason,
	)
	return out, nil
}

func (s *Service) upsertRequest(key registry.FieldKey, t *domain.DriftTicket, p *domain.MappingProposal) registry.UpsertRequest {
	id := t.ID
	return registry.UpsertRequest{
		Key:             key,
		CanonicalEntity: p.CanonicalEntity,
		CanonicalField:  p.CanonicalField,
		Transform:       p.Transform,
		Confidence:      p.Confidence,
		Method:          p.Method,
		TicketID:        &id,
	}
}

// audit failures are logged, never returned: the decision has already taken effect.
func (s *Service) audit(ctx context.Context, t *domain.DriftTicket, p *domain.MappingProposal, dec gate.Decision, out *TicketOutcome) *domain.GateDecision {
	raw, err := json.Marshal(p)
	if err != nil {
		raw = []byte("{}")
	}
	row := &domain.GateDecision{
		TenantID:   t.TenantID,
		TicketID:   t.ID,
		Action:     string(dec.Action),
		Confidence: p.Confidence,
		Method:     p.Method,
		Reason:     dec.Reason,
		Proposal:   datatypes.JSON(raw),
	}
	if out.Mapping != nil {
		row.MappingEntryID = uuidPtr(out.Mapping.ID)
	}
	if out.Review != nil {
		row.ReviewItemID = uuidPtr(out.Review.ID)
	}
	if err := s.repos.GateDecisions.Create(dbctx.Background(ctx), row); err != nil {
		s.log.Error("gate decision audit failed", "tenant_id", t.TenantID, "ticket_id", t.ID, "error", err)
	}
	return row
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
