package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/jobs/scheduler"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/review"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/sources"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Services struct {
	Contracts *contract.Set
	Knowledge *similarity.KnowledgeBase
	Registry  *registry.Registry
	Review    *review.Service
	Sources   *sources.Registry
	Connector *sources.Connector
	Pipeline  *pipeline.Service
	Scheduler *scheduler.Scheduler
}

func loadContracts(path string) (*contract.Set, error) {
	if path == "" {
		return contract.Default()
	}
	return contract.LoadFile(path)
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r repos.Repos, clients Clients) (Services, error) {
	var out Services

	set, err := loadContracts(cfg.ContractsPath)
	if err != nil {
		return out, fmt.Errorf("load contracts: %w", err)
	}
	out.Contracts = set
	out.Knowledge = similarity.NewKnowledgeBase(log, r.Knowledge, set)

	regCfg := registry.DefaultConfig()
	regCfg.HighThreshold = cfg.Gate.High
	opts := []registry.Option{
		registry.WithOnActivate(func(ctx context.Context, e *domain.MappingEntry) {
			ft, _ := set.FieldType(canonical.Entity(e.CanonicalEntity), e.CanonicalField)
			if err := out.Knowledge.Learn(ctx, e.TenantID, e, string(ft)); err != nil {
				log.Warn("knowledge learn failed", "tenant_id", e.TenantID, "source_field", e.SourceField, "error", err)
			}
		}),
	}
	if clients.Redis != nil {
		opts = append(opts,
			registry.WithSharedCache(clients.Cache),
			registry.WithLocker(clients.Locker),
			registry.WithInvalidator(clients.Bus),
		)
	}
	out.Registry = registry.New(log, db, r.Mappings, regCfg, opts...)

	out.Review = review.New(log, r, out.Registry, review.Config{TTL: cfg.ReviewTTL})

	out.Sources, err = sources.LoadFile(cfg.SourcesPath)
	if err != nil {
		return out, fmt.Errorf("load sources: %w", err)
	}
	out.Connector = sources.NewConnector(log, out.Sources)

	proposer := repair.New(log, out.Knowledge, set, clients.Generator, repair.Config{
		MinSimilarity:        cfg.SimilarityMinScore,
		GenerativeConfidence: cfg.GenerativeConfidence,
		GenerativeTimeout:    cfg.GenerativeTimeout,
		Concurrency:          int64(cfg.GenerativeConcurrency),
	})

	out.Pipeline, err = pipeline.New(log, pipeline.Deps{
		DB:            db,
		Repos:         r,
		Contracts:     set,
		Fingerprinter: fingerprint.New(log, fingerprint.Config{SampleSize: cfg.SampleSize}),
		Proposer:      proposer,
		Gate:          cfg.Gate,
		Registry:      out.Registry,
		Review:        out.Review,
		Sources:       out.Sources,
	})
	if err != nil {
		return out, err
	}

	out.Scheduler = scheduler.New(log, scheduler.Config{
		ScanInterval:  cfg.ScanInterval,
		SweepInterval: cfg.SweepInterval,
		Concurrency:   cfg.ScanConcurrency,
	}, out.Sources.PolledKeys, out.scanKey, out.Review.Sweep)

	return out, nil
}

func (s Services) scanKey(ctx context.Context, key fingerprint.Key) error {
	_, err := s.Pipeline.ScanPolled(ctx, key, s.Connector)
	return err
}
