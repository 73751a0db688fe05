// Package pipeline orchestrates the drift flow for one (tenant, source,
// entity) key: fingerprint, detect, repair, gate, then apply. It also maps
// raw record batches into validated canonical records.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/detector"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/gate"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/review"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/sources"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/validator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Deps struct {
	DB            *gorm.DB
	Repos         repos.Repos
	Contracts     *contract.Set
	Fingerprinter *fingerprint.Fingerprinter
	Proposer      *repair.Proposer
	Gate          gate.Thresholds
	Registry      *registry.Registry
	Review        *review.Service
	// Sources is optional; it supplies declared canonical targets.
	Sources *sources.Registry
}

type Service struct {
	log        *logger.Logger
	db         *gorm.DB
	repos      repos.Repos
	contracts  *contract.Set
	fp         *fingerprint.Fingerprinter
	proposer   *repair.Proposer
	gate       gate.Thresholds
	registry   *registry.Registry
	review     *review.Service
	sources    *sources.Registry
	applicator *applicator.Applicator
	validator  *validator.Validator
}

func New(log *logger.Logger, d Deps) (*Service, error) {
	if d.DB == nil || d.Contracts == nil || d.Fingerprinter == nil || d.Proposer == nil || d.Registry == nil || d.Review == nil {
		return nil, fmt.Errorf("pipeline: missing dependency")
	}
	if err := d.Gate.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log:        log.With("component", "DriftPipeline"),
		db:         d.DB,
		repos:      d.Repos,
		contracts:  d.Contracts,
		fp:         d.Fingerprinter,
		proposer:   d.Proposer,
		gate:       d.Gate,
		registry:   d.Registry,
		review:     d.Review,
		sources:    d.Sources,
		applicator: applicator.New(log, d.Contracts),
		validator:  validator.New(log, d.Contracts),
	}, nil
}

// TicketOutcome is what happened to one ticket during a scan or repair.
type TicketOutcome struct {
	Ticket   *domain.DriftTicket     `json:"ticket"`
	Proposal *domain.MappingProposal `json:"proposal,omitempty"`
	Decision *domain.GateDecision    `json:"decision,omitempty"`
	Mapping  *domain.MappingEntry    `json:"mapping,omitempty"`
	Review   *domain.ReviewItem      `json:"review,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type ScanResult struct {
	Fingerprint *domain.Fingerprint `json:"fingerprint"`
	Baseline    bool                `json:"baseline"`
	Unchanged   bool                `json:"unchanged"`
	Tickets     []*TicketOutcome    `json:"tickets"`
}

// Scan captures a fingerprint for key, records any drift, and runs every new
// ticket that needs a mapping through repair and the gate. A fingerprint is
// stored only on first capture or when its hash changed, so repeated scans of
// an unchanged source write nothing.
func (s *Service) Scan(ctx context.Context, key fingerprint.Key, r fingerprint.Reader) (*ScanResult, error) {
	ctx, span := observability.StartSpan(ctx, "drift.scan", observability.SourceAttrs(key.TenantID, key.SourceID, key.Entity)...)
	defer span.End()

	capture, err := s.fp.Capture(ctx, key, r)
	if err != nil {
		observability.Current().IncScanFailure(key.SourceID)
		span.RecordError(err)
		return nil, err
	}
	dbc := dbctx.Background(ctx)
	prior, err := s.repos.Fingerprints.Latest(dbc, key.TenantID, key.SourceID, key.Entity)
	if err != nil {
		return nil, fmt.Errorf("load prior fingerprint: %w", err)
	}
	known, err := s.repos.Fingerprints.KnownEntities(dbc, key.TenantID, key.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load known entities: %w", err)
	}
	det, err := detector.Detect(detector.Input{
		Current:       capture.Fingerprint,
		Prior:         prior,
		KnownEntities: known,
		Samples:       capture.Samples,
	})
	if err != nil {
		return nil, err
	}
	res := &ScanResult{Baseline: det.Baseline, Unchanged: det.Unchanged}
	if det.Unchanged {
		res.Fingerprint = prior
		return res, nil
	}

	var created []*domain.DriftTicket
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.repos.Fingerprints.Create(txc, capture.Fingerprint); err != nil {
			return fmt.Errorf("store fingerprint: %w", err)
		}
		for _, t := range det.Tickets {
			ok, err := s.repos.Tickets.CreateIfAbsent(txc, t)
			if err != nil {
				return fmt.Errorf("store ticket: %w", err)
			}
			if ok {
				created = append(created, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Fingerprint = capture.Fingerprint

	for _, t := range created {
		observability.Current().IncDriftTicket(string(t.ChangeType))
		s.log.Info("drift detected",
			"tenant_id", t.TenantID,
			"source_id", t.SourceID,
			"entity", t.Entity,
			"change_type", t.ChangeType,
			"field", t.FieldName,
			"confidence", t.Confidence,
		)
		if !t.NeedsMapping() {
			if err := s.repos.Tickets.UpdateStatus(dbc, t.TenantID, t.ID, domain.TicketStatusInformational); err != nil {
				return nil, fmt.Errorf("update ticket: %w", err)
			}
			t.Status = domain.TicketStatusInformational
			res.Tickets = append(res.Tickets, &TicketOutcome{Ticket: t})
			continue
		}
		out, err := s.repair(ctx, t)
		if err != nil {
			// The ticket stays open and can be retried through RepairTicket.
			s.log.Warn("ticket repair failed",
				"tenant_id", t.TenantID,
				"ticket_id", t.ID,
				"field", t.FieldName,
				"error", err,
			)
			out = &TicketOutcome{Ticket: t, Error: err.Error()}
		}
		res.Tickets = append(res.Tickets, out)
	}
	return res, nil
}

// ScanPolled scans a key through a connector reader.
func (s *Service) ScanPolled(ctx context.Context, key fingerprint.Key, c *sources.Connector) (*ScanResult, error) {
	r, err := c.Reader(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, key, r)
}

// Snapshot scans records pushed by a schemaless connector.
func (s *Service) Snapshot(ctx context.Context, key fingerprint.Key, records []map[string]any) (*ScanResult, error) {
	if len(records) == 0 {
		return nil, drifterr.Invalid("snapshot requires at least one record")
	}
	return s.Scan(ctx, key, sources.Records(records))
}

// RepairTicket re-runs repair and the gate for one ticket. Only open and
// previously rejected tickets qualify.
func (s *Service) RepairTicket(ctx context.Context, tenantID string, id uuid.UUID) (*TicketOutcome, error) {
	if tenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	t, err := s.repos.Tickets.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, drifterr.NotFound("drift ticket", id)
	}
	if !t.NeedsMapping() {
		return nil, fmt.Errorf("ticket %s (%s): %w", t.ID, t.ChangeType, drifterr.ErrNotRepairable)
	}
	switch t.Status {
	case domain.TicketStatusOpen, domain.TicketStatusRejected:
	default:
		return nil, fmt.Errorf("ticket %s is %s: %w", t.ID, t.Status, drifterr.ErrAlreadyDecided)
	}
	return s.repair(ctx, t)
}

func (s *Service) ListTickets(ctx context.Context, tenantID string, f repos.TicketFilter) ([]*domain.DriftTicket, error) {
	if tenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	return s.repos.Tickets.List(dbctx.Background(ctx), tenantID, f)
}

func (s *Service) Fingerprints(ctx context.Context, key fingerprint.Key, limit int) ([]*domain.Fingerprint, error) {
	if key.TenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	return s.repos.Fingerprints.History(dbctx.Background(ctx), key.TenantID, key.SourceID, key.Entity, limit)
}

// Target resolves the canonical entity a source entity feeds: the declared
// source target first, then the entity name itself when it is canonical.
func (s *Service) Target(tenantID, sourceID, entity string) canonical.Entity {
	if t := s.sources.Target(tenantID, sourceID, entity); t != "" {
		return t
	}
	if _, ok := s.contracts.Entity(canonical.Entity(entity)); ok {
		return canonical.Entity(entity)
	}
	return ""
}

func isNotFound(err error) bool { return errors.Is(err, drifterr.ErrNotFound) }
