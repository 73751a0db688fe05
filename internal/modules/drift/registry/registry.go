// Package registry is the versioned mapping store. Reads are served from a
// per-entity snapshot cache; every activation is a transactional swap of the
// single active version for a field key.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	driftrepo "github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type FieldKey = repos.FieldKey

type Config struct {
	// HighThreshold is the minimum confidence that may activate without approval.
	HighThreshold float64
	LockTTL       time.Duration
	LockWait      time.Duration
	MaxRetries    int
	// CacheTTL bounds how long a local snapshot is served without a reload.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		HighThreshold: 0.85,
		LockTTL:       10 * time.Second,
		LockWait:      3 * time.Second,
		MaxRetries:    3,
		CacheTTL:      time.Minute,
	}
}

type Option func(*Registry)

func WithLocker(l Locker) Option { return func(r *Registry) { r.locker = l } }

func WithSharedCache(c SharedCache) Option { return func(r *Registry) { r.shared = c } }

func WithInvalidator(i Invalidator) Option { return func(r *Registry) { r.bus = i } }

// WithOnActivate registers a callback run after every committed activation.
func WithOnActivate(fn func(ctx context.Context, e *domain.MappingEntry)) Option {
	return func(r *Registry) { r.onActivate = fn }
}

type Registry struct {
	log  *logger.Logger
	db   *gorm.DB
	repo repos.MappingRepo
	cfg  Config

	locker     Locker
	shared     SharedCache
	bus        Invalidator
	onActivate func(ctx context.Context, e *domain.MappingEntry)

	keyed keyedMutex
	local *localCache
}

func New(log *logger.Logger, db *gorm.DB, repo repos.MappingRepo, cfg Config, opts ...Option) *Registry {
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = DefaultConfig().HighThreshold
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultConfig().LockWait
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	r := &Registry{
		log:   log.With("component", "MappingRegistry"),
		db:    db,
		repo:  repo,
		cfg:   cfg,
		local: newLocalCache(cfg.CacheTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type UpsertRequest struct {
	Key             FieldKey
	CanonicalEntity string
	CanonicalField  string
	Transform       string
	Confidence      float64
	Method          string
	ApprovedBy      string
	TicketID        *uuid.UUID
	// ExpectedVersion, when set, must equal the current active version or
	// the write fails with a ConflictError.
	ExpectedVersion *int
}

type UpsertResult struct {
	Entry *domain.MappingEntry
	// Changed is false when the active version already carried the same rule.
	Changed bool
}

func validKey(k FieldKey) error {
	if strings.TrimSpace(k.TenantID) == "" {
		return drifterr.ErrMissingTenant
	}
	if k.SourceID == "" || k.Entity == "" || k.SourceField == "" {
		return drifterr.Invalid("source_id, entity and source_field are required")
	}
	return nil
}

func fieldLockKey(k FieldKey) string {
	return strings.Join([]string{k.TenantID, k.SourceID, k.Entity, k.SourceField}, "|")
}

func (r *Registry) approvable(confidence float64, approvedBy string) bool {
	return confidence >= r.cfg.HighThreshold || strings.TrimSpace(approvedBy) != ""
}

// Lookup returns the active mapping for key, or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, key FieldKey) (*domain.MappingEntry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	snap, err := r.snapshot(ctx, key.TenantID, key.SourceID, key.Entity)
	if err != nil {
		return nil, err
	}
	e, ok := snap.byField[key.SourceField]
	if !ok {
		return nil, drifterr.NotFound("mapping", fieldLockKey(key))
	}
	cp := *e
	return &cp, nil
}

// ActiveFor returns every active mapping for one (tenant, source, entity).
func (r *Registry) ActiveFor(ctx context.Context, tenantID, sourceID, entity string) ([]*domain.MappingEntry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	snap, err := r.snapshot(ctx, tenantID, sourceID, entity)
	if err != nil {
		return nil, err
	}
	return snap.list(), nil
}

func (r *Registry) snapshot(ctx context.Context, tenantID, sourceID, entity string) (*snapshot, error) {
	ck := EntityKey(tenantID, sourceID, entity)
	if s, ok := r.local.get(ck); ok {
		return s, nil
	}
	gen := r.local.generation(ck)
	if r.shared != nil {
		raw, ok, err := r.shared.Get(ctx, ck)
		if err != nil {
			r.log.Warn("shared mapping cache read failed", "key", ck, "error", err)
		} else if ok {
			if s, dErr := decodeSnapshot(raw); dErr == nil {
				r.local.fill(ck, gen, s)
				return s, nil
			}
		}
	}
	rows, err := r.repo.ListActive(dbctx.Background(ctx), tenantID, sourceID, entity)
	if err != nil {
		return nil, fmt.Errorf("list active mappings: %w", err)
	}
	s := newSnapshot(rows)
	if !r.local.fill(ck, gen, s) {
		// A write landed while loading; serve the rows once, cache nothing.
		return s, nil
	}
	if r.shared != nil {
		r.fillShared(ctx, ck, gen, s)
	}
	return s, nil
}

// fillShared publishes s to the shared tier. If an invalidation raced the
// write, the entry is removed again.
func (r *Registry) fillShared(ctx context.Context, ck string, gen uint64, s *snapshot) {
	raw, err := encodeSnapshot(s)
	if err != nil {
		return
	}
	if err := r.shared.Set(ctx, ck, raw); err != nil {
		r.log.Warn("shared mapping cache write failed", "key", ck, "error", err)
		return
	}
	if r.local.generation(ck) != gen {
		if err := r.shared.Delete(ctx, ck); err != nil {
			r.log.Warn("shared mapping cache delete failed", "key", ck, "error", err)
		}
	}
}

// invalidate drops the entity snapshot from both tiers and notifies other
// replicas. It runs before any write returns to its caller.
func (r *Registry) invalidate(ctx context.Context, tenantID, sourceID, entity string) {
	ck := EntityKey(tenantID, sourceID, entity)
	r.local.evict(ck)
	if r.shared != nil {
		if err := r.shared.Delete(ctx, ck); err != nil {
			r.log.Warn("shared mapping cache delete failed", "key", ck, "error", err)
		}
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, ck); err != nil {
			r.log.Warn("mapping invalidation publish failed", "key", ck, "error", err)
		}
	}
}

// EvictLocal drops one entity snapshot from this process only. It is the
// subscriber side of the invalidation bus.
func (r *Registry) EvictLocal(entityKey string) {
	r.local.evict(entityKey)
}

// Upsert makes the requested rule the active version for its key. Writing
// the rule that is already active is a no-op.
func (r *Registry) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	if err := validKey(req.Key); err != nil {
		return nil, err
	}
	if req.CanonicalEntity == "" || req.CanonicalField == "" {
		return nil, drifterr.Invalid("canonical_entity and canonical_field are required")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, drifterr.Invalid("confidence %v out of range", req.Confidence)
	}
	if !r.approvable(req.Confidence, req.ApprovedBy) {
		return nil, fmt.Errorf("confidence %.4f: %w", req.Confidence, drifterr.ErrNotApprovable)
	}
	if req.Method == "" {
		req.Method = domain.MethodManual
	}

	unlock, err := r.acquire(ctx, fieldLockKey(req.Key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *UpsertResult
	for attempt := 0; ; attempt++ {
		res, err = r.upsertOnce(ctx, req)
		if err == nil || !driftrepo.IsUniqueViolation(err) {
			break
		}
		observability.Current().IncRegistryConflict("retry")
		if attempt >= r.cfg.MaxRetries {
			observability.Current().IncRegistryConflict("lost")
			cur, _ := r.currentVersion(ctx, req.Key)
			return nil, &drifterr.ConflictError{Key: fieldLockKey(req.Key), CurrentVersion: cur}
		}
		r.log.Warn("mapping activation conflict, retrying against current version",
			"key", fieldLockKey(req.Key), "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}
	if res.Changed {
		r.invalidate(ctx, req.Key.TenantID, req.Key.SourceID, req.Key.Entity)
		r.activated(ctx, res.Entry)
	}
	return res, nil
}

func (r *Registry) upsertOnce(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	var res *UpsertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		current, err := r.repo.GetActive(dbc, req.Key)
		if err != nil {
			return err
		}
		if req.ExpectedVersion != nil {
			cur := 0
			if current != nil {
				cur = current.Version
			}
			if cur != *req.ExpectedVersion {
				return &drifterr.ConflictError{Key: fieldLockKey(req.Key), CurrentVersion: cur}
			}
		}
		next := &domain.MappingEntry{
			TenantID:        req.Key.TenantID,
			SourceID:        req.Key.SourceID,
			Entity:          req.Key.Entity,
			SourceField:     req.Key.SourceField,
			CanonicalEntity: req.CanonicalEntity,
			CanonicalField:  req.CanonicalField,
			Transform:       req.Transform,
			Confidence:      req.Confidence,
			Method:          req.Method,
			ApprovedBy:      req.ApprovedBy,
			TicketID:        req.TicketID,
		}
		if current != nil && current.SameRule(next) {
			res = &UpsertResult{Entry: current}
			return nil
		}
		max, err := r.repo.MaxVersion(dbc, req.Key)
		if err != nil {
			return err
		}
		if _, err := r.repo.DeactivateKey(dbc, req.Key); err != nil {
			return err
		}
		now := time.Now().UTC()
		next.Version = max + 1
		next.Active = true
		next.ActivatedAt = &now
		if err := r.repo.Create(dbc, next); err != nil {
			return err
		}
		res = &UpsertResult{Entry: next, Changed: true}
		return nil
	})
	return res, err
}

// Stage records a new inactive version, used for proposals awaiting review.
func (r *Registry) Stage(ctx context.Context, req UpsertRequest) (*domain.MappingEntry, error) {
	if err := validKey(req.Key); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = domain.MethodManual
	}
	unlock, err := r.acquire(ctx, fieldLockKey(req.Key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var staged *domain.MappingEntry
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		max, err := r.repo.MaxVersion(dbc, req.Key)
		if err != nil {
			return err
		}
		staged = &domain.MappingEntry{
			TenantID:        req.Key.TenantID,
			SourceID:        req.Key.SourceID,
			Entity:          req.Key.Entity,
			SourceField:     req.Key.SourceField,
			Version:         max + 1,
			CanonicalEntity: req.CanonicalEntity,
			CanonicalField:  req.CanonicalField,
			Transform:       req.Transform,
			Confidence:      req.Confidence,
			Method:          req.Method,
			TicketID:        req.TicketID,
		}
		return r.repo.Create(dbc, staged)
	})
	if err != nil {
		return nil, fmt.Errorf("stage mapping: %w", err)
	}
	return staged, nil
}

// Activate swaps an existing version in as the active one. approvedBy may be
// empty only when the version's confidence clears the high threshold or it
// was already approved.
func (r *Registry) Activate(ctx context.Context, tenantID string, id uuid.UUID, approvedBy string) (*domain.MappingEntry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	entry, err := r.repo.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, drifterr.NotFound("mapping", id)
	}
	if !r.approvable(entry.Confidence, approvedBy) && entry.ApprovedBy == "" {
		return nil, fmt.Errorf("mapping %s: %w", id, drifterr.ErrNotApprovable)
	}
	key := FieldKey{TenantID: entry.TenantID, SourceID: entry.SourceID, Entity: entry.Entity, SourceField: entry.SourceField}
	unlock, err := r.acquire(ctx, fieldLockKey(key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	changed := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		current, err := r.repo.GetActive(dbc, key)
		if err != nil {
			return err
		}
		if current != nil && current.ID == id {
			return nil
		}
		if _, err := r.repo.DeactivateKey(dbc, key); err != nil {
			return err
		}
		n, err := r.repo.MarkActive(dbc, tenantID, id, approvedBy)
		if err != nil {
			return err
		}
		if n == 0 {
			return &drifterr.ConflictError{Key: fieldLockKey(key), CurrentVersion: versionOf(current)}
		}
		changed = true
		return nil
	})
	if err != nil {
		if driftrepo.IsUniqueViolation(err) {
			observability.Current().IncRegistryConflict("lost")
			cur, _ := r.currentVersion(ctx, key)
			return nil, &drifterr.ConflictError{Key: fieldLockKey(key), CurrentVersion: cur}
		}
		return nil, err
	}
	out, err := r.repo.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if changed {
		r.invalidate(ctx, key.TenantID, key.SourceID, key.Entity)
		r.activated(ctx, out)
	}
	return out, nil
}

// Deactivate turns off one version without deleting it.
func (r *Registry) Deactivate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.MappingEntry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	entry, err := r.repo.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, drifterr.NotFound("mapping", id)
	}
	if _, err := r.repo.Deactivate(dbctx.Background(ctx), tenantID, id); err != nil {
		return nil, err
	}
	r.invalidate(ctx, entry.TenantID, entry.SourceID, entry.Entity)
	return r.repo.GetByID(dbctx.Background(ctx), tenantID, id)
}

// DeactivateField turns off whatever version is active for key. It reports
// whether anything was active.
func (r *Registry) DeactivateField(ctx context.Context, key FieldKey) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	unlock, err := r.acquire(ctx, fieldLockKey(key))
	if err != nil {
		return false, err
	}
	defer unlock()
	n, err := r.repo.DeactivateKey(dbctx.Background(ctx), key)
	if err != nil {
		return false, err
	}
	r.invalidate(ctx, key.TenantID, key.SourceID, key.Entity)
	return n > 0, nil
}

func (r *Registry) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.MappingEntry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	e, err := r.repo.GetByID(dbctx.Background(ctx), tenantID, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, drifterr.NotFound("mapping", id)
	}
	return e, nil
}

func (r *Registry) Versions(ctx context.Context, key FieldKey) ([]*domain.MappingEntry, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return r.repo.Versions(dbctx.Background(ctx), key)
}

func (r *Registry) currentVersion(ctx context.Context, key FieldKey) (int, error) {
	cur, err := r.repo.GetActive(dbctx.Background(ctx), key)
	if err != nil {
		return 0, err
	}
	return versionOf(cur), nil
}

func (r *Registry) activated(ctx context.Context, e *domain.MappingEntry) {
	if e == nil {
		return
	}
	origin := e.Method
	if e.ApprovedBy != "" {
		origin = "approved"
	}
	observability.Current().IncActivation(origin)
	r.log.Info("mapping activated",
		"tenant_id", e.TenantID,
		"source_id", e.SourceID,
		"entity", e.Entity,
		"source_field", e.SourceField,
		"canonical", e.CanonicalEntity+"."+e.CanonicalField,
		"version", e.Version,
		"confidence", e.Confidence,
		"approved_by", e.ApprovedBy,
	)
	if r.onActivate != nil {
		r.onActivate(ctx, e)
	}
}

func versionOf(e *domain.MappingEntry) int {
	if e == nil {
		return 0
	}
	return e.Version
}

// IsConflict reports whether err is a lost activation race.
func IsConflict(err error) bool {
	return errors.Is(err, drifterr.ErrRegistryConflict)
}
