// Package repair turns drift tickets into mapping proposals. The similarity
// knowledge base is always tried first; the generative client is only
// consulted on a miss and runs in a bounded pool with a deadline.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Generator produces one JSON object conforming to schema. Both the OpenAI
// and Gemini clients satisfy it.
type Generator interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type Config struct {
	MinSimilarity float64
	// GenerativeConfidence is the fixed confidence given to any complete
	// generative proposal. The generator never scores itself.
	GenerativeConfidence float64
	GenerativeTimeout    time.Duration
	Concurrency          int64
	Candidates           int
}

func DefaultConfig() Config {
	return Config{
		MinSimilarity:        0.85,
		GenerativeConfidence: 0.75,
		GenerativeTimeout:    20 * time.Second,
		Concurrency:          4,
		Candidates:           5,
	}
}

type Proposer struct {
	log       *logger.Logger
	kb        *similarity.KnowledgeBase
	contracts *contract.Set
	gen       Generator
	pool      *semaphore.Weighted
	cfg       Config
}

// New builds a proposer. gen may be nil, in which case a miss falls back to
// the best below-threshold candidate.
func New(log *logger.Logger, kb *similarity.KnowledgeBase, contracts *contract.Set, gen Generator, cfg Config) *Proposer {
	def := DefaultConfig()
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.GenerativeConfidence <= 0 {
		cfg.GenerativeConfidence = def.GenerativeConfidence
	}
	if cfg.GenerativeTimeout <= 0 {
		cfg.GenerativeTimeout = def.GenerativeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	return &Proposer{
		log:       log.With("component", "RepairProposer"),
		kb:        kb,
		contracts: contracts,
		gen:       gen,
		pool:      semaphore.NewWeighted(cfg.Concurrency),
		cfg:       cfg,
	}
}

type Request struct {
	Ticket *domain.DriftTicket
	// FieldType is the field's current inferred type; defaults to the
	// ticket's new value.
	FieldType string
	// Current is the field's active mapping, if any.
	Current *domain.MappingEntry
	// Target restricts the search to one canonical entity when known.
	Target canonical.Entity
}

func (r Request) samples() []string {
	if r.Ticket == nil || r.Ticket.SampleValues == "" {
		return []string{}
	}
	return strings.Split(r.Ticket.SampleValues, "\n")
}

// Propose returns a proposal for a ticket that needs a mapping. Removals and
// failed generative calls come back flagged for review rather than as errors.
func (p *Proposer) Propose(ctx context.Context, req Request) (*domain.MappingProposal, error) {
	t := req.Ticket
	if t == nil {
		return nil, drifterr.Invalid("ticket required")
	}
	if strings.TrimSpace(t.TenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	if !t.NeedsMapping() {
		return nil, fmt.Errorf("ticket %s (%s): %w", t.ID, t.ChangeType, drifterr.ErrNotRepairable)
	}
	ctx, span := observability.StartSpan(ctx, "repair.propose",
		append(observability.SourceAttrs(t.TenantID, t.SourceID, t.Entity),
			attribute.String("change_type", string(t.ChangeType)))...,
	)

	start := time.Now()
	prop, outcome, err := p.propose(ctx, req)
	method := "none"
	if prop != nil {
		method = prop.Method
	}
	observability.Current().ObserveProposal(method, outcome, time.Since(start))
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("method", prop.Method),
		attribute.Float64("confidence", prop.Confidence),
		attribute.String("outcome", outcome),
	)
	observability.EndSpan(span, nil)
	return prop, nil
}

func (p *Proposer) propose(ctx context.Context, req Request) (*domain.MappingProposal, string, error) {
	t := req.Ticket
	fieldType := req.FieldType
	if fieldType == "" {
		fieldType = t.NewValue
	}

	switch {
	case t.ChangeType == domain.ChangeFieldRemovedOrRenamed:
		return &domain.MappingProposal{
			TicketID:    t.ID,
			SourceField: t.FieldName,
			Retire:      t.FieldName,
			Confidence:  t.Confidence,
			Method:      domain.MethodManual,
			Ambiguous:   true,
			Rationale:   fmt.Sprintf("%s disappeared from %s; it may have been removed or renamed: %v", t.FieldName, t.Entity, drifterr.ErrAmbiguousDrift),
		}, "ambiguous", nil

	case t.ChangeType == domain.ChangeTypeChanged && req.Current != nil && req.Current.Active:
		return p.carryOver(t, fieldType, req.Current), "carry_over", nil
	}

	q := similarity.Query{Field: t.FieldName, Type: fieldType, Entity: req.Target}
	candidates, err := p.kb.Candidates(ctx, t.TenantID, q, p.cfg.Candidates)
	if err != nil {
		return nil, "error", err
	}
	if len(candidates) > 0 && candidates[0].Score >= p.cfg.MinSimilarity {
		return fromMatch(t, candidates[0], "knowledge base match"), "hit", nil
	}

	if p.gen == nil {
		if len(candidates) == 0 {
			return &domain.MappingProposal{
				TicketID: t.ID, SourceField: t.FieldName, Method: domain.MethodSimilarity,
				Rationale: "no candidate canonical field",
			}, "miss", nil
		}
		return fromMatch(t, candidates[0], "best candidate below similarity threshold"), "miss", nil
	}
	return p.generate(ctx, req, fieldType, candidates)
}

func (p *Proposer) carryOver(t *domain.DriftTicket, fieldType string, cur *domain.MappingEntry) *domain.MappingProposal {
	target, _ := p.contracts.FieldType(canonical.Entity(cur.CanonicalEntity), cur.CanonicalField)
	transform := similarity.TransformFor(fieldType, target)
	return &domain.MappingProposal{
		TicketID:        t.ID,
		SourceField:     t.FieldName,
		CanonicalEntity: cur.CanonicalEntity,
		CanonicalField:  cur.CanonicalField,
		Transform:       transform,
		Confidence:      t.Confidence,
		Method:          domain.MethodCarryOver,
		Rationale: fmt.Sprintf("type changed %s -> %s; keeping %s.%s with transform %q",
			t.OldValue, t.NewValue, cur.CanonicalEntity, cur.CanonicalField, transform),
	}
}

func fromMatch(t *domain.DriftTicket, m similarity.Match, why string) *domain.MappingProposal {
	return &domain.MappingProposal{
		TicketID:        t.ID,
		SourceField:     t.FieldName,
		CanonicalEntity: string(m.CanonicalEntity),
		CanonicalField:  m.CanonicalField,
		Transform:       m.SuggestedTransform,
		Confidence:      m.Score,
		Method:          domain.MethodSimilarity,
		Rationale: fmt.Sprintf("%s: %q ~ %q (name %.2f, type %.2f)",
			why, t.FieldName, m.Name, m.NameScore, m.TypeScore),
	}
}

func (p *Proposer) generate(ctx context.Context, req Request, fieldType string, candidates []similarity.Match) (*domain.MappingProposal, string, error) {
	t := req.Ticket
	base := &domain.MappingProposal{TicketID: t.ID, SourceField: t.FieldName, Method: domain.MethodGenerative}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GenerativeTimeout)
	defer cancel()

	obj, err := p.callPool(gctx, p.contracts, req, fieldType, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "error", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.log.Warn("generative proposal timed out",
				"tenant_id", t.TenantID, "ticket_id", t.ID, "field", t.FieldName, "timeout", p.cfg.GenerativeTimeout.String())
			base.TimedOut = true
			base.Rationale = drifterr.ErrProposalTimeout.Error()
			return base, "timeout", nil
		}
		p.log.Warn("generative proposal failed",
			"tenant_id", t.TenantID, "ticket_id", t.ID, "field", t.FieldName, "error", err)
		base.Ambiguous = true
		base.Rationale = "generator failed: " + err.Error()
		return base, "error", nil
	}

	var g generated
	raw, _ := json.Marshal(obj)
	if err := json.Unmarshal(raw, &g); err != nil {
		base.Ambiguous = true
		base.Rationale = "unparseable generator output"
		return base, "invalid", nil
	}
	entity := canonical.Entity(strings.TrimSpace(g.CanonicalEntity))
	field := strings.TrimSpace(g.CanonicalField)
	if field == "" || strings.EqualFold(field, "none") {
		base.Rationale = defaultString(g.Rationale, "generator found no canonical field")
		return base, "no_match", nil
	}
	if req.Target != "" && entity != req.Target {
		base.Ambiguous = true
		base.Rationale = fmt.Sprintf("generator chose %s.%s outside target entity %s", entity, field, req.Target)
		return base, "invalid", nil
	}
	target, ok := p.contracts.FieldType(entity, field)
	if !ok {
		base.Ambiguous = true
		base.Rationale = fmt.Sprintf("generator chose unknown canonical field %s.%s", entity, field)
		return base, "invalid", nil
	}
	transform := strings.TrimSpace(g.Transform)
	if !applicator.KnownTransform(transform) {
		transform = similarity.TransformFor(fieldType, target)
	}
	base.CanonicalEntity = string(entity)
	base.CanonicalField = field
	base.Transform = transform
	base.Confidence = p.cfg.GenerativeConfidence
	base.Rationale = defaultString(g.Rationale, "generative proposal")
	return base, "generated", nil
}

// callPool waits for a pool slot and runs the generator. Waiting for a slot
// counts against the same deadline as the call. The slot stays held until the
// generator returns, even when the caller has already given up on it.
func (p *Proposer) callPool(ctx context.Context, contracts *contract.Set, req Request, fieldType string, candidates []similarity.Match) (map[string]any, error) {
	if err := p.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		obj map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.pool.Release(1)
		obj, err := p.gen.GenerateJSON(ctx, systemPrompt(), userPrompt(contracts, req, fieldType, candidates), schemaName, proposalSchema(contracts))
		done <- result{obj, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.obj, r.err
	}
}
