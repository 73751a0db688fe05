// Package applicator turns one raw source record into canonical fields using
// the active mappings for its (tenant, source, entity). It performs no I/O.
package applicator

import (
	"fmt"
	"sort"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Applicator struct {
	log       *logger.Logger
	contracts *contract.Set
}

func New(log *logger.Logger, contracts *contract.Set) *Applicator {
	return &Applicator{log: log.With("component", "Applicator"), contracts: contracts}
}

type Input struct {
	Meta canonical.SourceMeta
	// Target is the canonical entity to produce. Empty means infer it from
	// the source entity name or the mappings.
	Target   canonical.Entity
	Op       canonical.Op
	TraceID  string
	Raw      map[string]any
	Mappings []*domain.MappingEntry
}

// Apply maps every raw field exactly once: either onto a canonical field or
// verbatim into UnmappedFields. Coercion failures set the canonical field to
// nil and are reported on the draft.
func (a *Applicator) Apply(in Input) (*canonical.Draft, error) {
	target, err := a.target(in)
	if err != nil {
		return nil, err
	}
	ec, _ := a.contracts.Entity(target)
	op := in.Op
	if op == "" {
		op = canonical.OpUpsert
	}

	meta := in.Meta
	meta.MappingVersions = map[string]int{}
	draft := &canonical.Draft{
		Entity:         target,
		Op:             op,
		Fields:         map[string]any{},
		UnmappedFields: map[string]any{},
		SourceMeta:     meta,
		TraceID:        in.TraceID,
	}

	byField := a.index(in.Mappings, target)

	names := make([]string, 0, len(in.Raw))
	for k := range in.Raw {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := in.Raw[name]
		m, ok := byField[name]
		if !ok {
			draft.UnmappedFields[name] = raw
			continue
		}
		spec, _ := ec.Field(m.CanonicalField)
		val, cErr := Coerce(m.Transform, raw, spec)
		if cErr != nil {
			a.log.Warn("field coercion failed",
				"tenant_id", meta.TenantID,
				"source_id", meta.SourceID,
				"entity", meta.Entity,
				"source_field", name,
				"canonical_field", m.CanonicalField,
				"transform", m.Transform,
				"error", cErr,
			)
			observability.Current().IncCoercionFailure(transformLabel(m.Transform))
			draft.Failures = append(draft.Failures, canonical.FieldFailure{
				SourceField:    name,
				CanonicalField: m.CanonicalField,
				Transform:      m.Transform,
				Value:          raw,
				Error:          cErr.Error(),
			})
			val = nil
		}
		draft.Fields[m.CanonicalField] = val
		draft.SourceMeta.MappingVersions[m.CanonicalField] = m.Version
	}
	return draft, nil
}

// index keeps one mapping per source field and one source field per
// canonical field. When two source fields claim the same canonical field the
// higher confidence wins, then the lexically smaller source field; the loser
// stays unmapped.
func (a *Applicator) index(mappings []*domain.MappingEntry, target canonical.Entity) map[string]*domain.MappingEntry {
	candidates := make([]*domain.MappingEntry, 0, len(mappings))
	for _, m := range mappings {
		if m == nil || !m.Active || canonical.Entity(m.CanonicalEntity) != target {
			continue
		}
		if _, ok := a.contracts.FieldType(target, m.CanonicalField); !ok {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].SourceField < candidates[j].SourceField
	})
	bySource := map[string]*domain.MappingEntry{}
	claimed := map[string]bool{}
	for _, m := range candidates {
		if _, dup := bySource[m.SourceField]; dup || claimed[m.CanonicalField] {
			continue
		}
		bySource[m.SourceField] = m
		claimed[m.CanonicalField] = true
	}
	return bySource
}

func (a *Applicator) target(in Input) (canonical.Entity, error) {
	if in.Target != "" {
		if _, ok := a.contracts.Entity(in.Target); !ok {
			return "", drifterr.Invalid("unknown canonical entity %q", in.Target)
		}
		return in.Target, nil
	}
	if _, ok := a.contracts.Entity(canonical.Entity(in.Meta.Entity)); ok {
		return canonical.Entity(in.Meta.Entity), nil
	}
	counts := map[canonical.Entity]int{}
	for _, m := range in.Mappings {
		if m != nil && m.Active {
			counts[canonical.Entity(m.CanonicalEntity)]++
		}
	}
	var best canonical.Entity
	for e, n := range counts {
		if n > counts[best] || (n == counts[best] && e < best) {
			best = e
		}
	}
	if best == "" {
		return "", fmt.Errorf("entity %q: no canonical target: %w", in.Meta.Entity, drifterr.ErrInvalidArgument)
	}
	return best, nil
}

func transformLabel(t string) string {
	if t == "" {
		return "implicit"
	}
	return t
}
