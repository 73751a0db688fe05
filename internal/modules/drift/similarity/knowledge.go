package similarity

import (
	"context"
	"fmt"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Store interface {
	Record(dbc dbctx.Context, row *domain.KnowledgeEntry) error
	ListByTenant(dbc dbctx.Context, tenantID string) ([]*domain.KnowledgeEntry, error)
}

// KnowledgeBase is the fast-path lookup: contract seeds shared by everyone
// plus successful pairings learned per tenant. Every call needs a tenant.
type KnowledgeBase struct {
	log       *logger.Logger
	store     Store
	contracts *contract.Set
	seeds     []Entry
}

func NewKnowledgeBase(log *logger.Logger, store Store, contracts *contract.Set) *KnowledgeBase {
	return &KnowledgeBase{
		log:       log.With("component", "KnowledgeBase"),
		store:     store,
		contracts: contracts,
		seeds:     SeedEntries(contracts),
	}
}

func (kb *KnowledgeBase) index(ctx context.Context, tenantID string) (*Index, error) {
	if tenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	rows, err := kb.store.ListByTenant(dbctx.Background(ctx), tenantID)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	entries := make([]Entry, 0, len(rows)+len(kb.seeds))
	for _, r := range rows {
		entries = append(entries, Entry{
			Name:            r.SourceField,
			CanonicalEntity: canonical.Entity(r.CanonicalEntity),
			CanonicalField:  r.CanonicalField,
			Transform:       r.Transform,
			Weight:          r.Successes,
		})
	}
	entries = append(entries, kb.seeds...)
	return NewIndex(kb.contracts, entries), nil
}

func (kb *KnowledgeBase) Search(ctx context.Context, tenantID string, q Query, minScore float64) (Match, bool, error) {
	ix, err := kb.index(ctx, tenantID)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := ix.Best(q, minScore)
	return m, ok, nil
}

// Candidates returns the top n ranked matches regardless of threshold.
func (kb *KnowledgeBase) Candidates(ctx context.Context, tenantID string, q Query, n int) ([]Match, error) {
	ix, err := kb.index(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ranked := ix.Rank(q)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// Learn records a successful mapping so later lookups for similar names hit
// the fast path.
func (kb *KnowledgeBase) Learn(ctx context.Context, tenantID string, m *domain.MappingEntry, fieldType string) error {
	if tenantID == "" {
		return drifterr.ErrMissingTenant
	}
	if m == nil || m.CanonicalField == "" {
		return nil
	}
	err := kb.store.Record(dbctx.Background(ctx), &domain.KnowledgeEntry{
		TenantID:        tenantID,
		NormalizedName:  Key(m.SourceField),
		SourceField:     m.SourceField,
		FieldType:       fieldType,
		CanonicalEntity: m.CanonicalEntity,
		CanonicalField:  m.CanonicalField,
		Transform:       m.Transform,
	})
	if err != nil {
		return fmt.Errorf("record knowledge: %w", err)
	}
	kb.log.Debug("knowledge learned",
		"tenant_id", tenantID,
		"source_field", m.SourceField,
		"canonical", m.CanonicalEntity+"."+m.CanonicalField,
	)
	return nil
}
