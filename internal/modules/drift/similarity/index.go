package similarity

import (
	"sort"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
)

const (
	nameWeight = 0.85
	typeWeight = 0.15
)

// Entry is one known source-name to canonical-field pairing.
type Entry struct {
	Name            string
	CanonicalEntity canonical.Entity
	CanonicalField  string
	Transform       string
	Weight          int
	Seed            bool
}

type Query struct {
	Field string
	Type  string
	// Entity restricts matches to one canonical entity when set.
	Entity canonical.Entity
}

type Match struct {
	Entry
	Score     float64
	NameScore float64
	TypeScore float64
	// SuggestedTransform is Entry.Transform, or the coercion implied by the
	// source and canonical types when the entry carries none.
	SuggestedTransform string
}

// Index is an immutable, rankable set of entries.
type Index struct {
	contracts *contract.Set
	entries   []Entry
}

func NewIndex(contracts *contract.Set, entries []Entry) *Index {
	return &Index{contracts: contracts, entries: entries}
}

// SeedEntries derives entries from canonical field names and their aliases.
func SeedEntries(contracts *contract.Set) []Entry {
	var out []Entry
	for _, e := range contracts.Entities() {
		ec, _ := contracts.Entity(e)
		for _, f := range ec.Fields {
			out = append(out, Entry{Name: f.Name, CanonicalEntity: e, CanonicalField: f.Name, Seed: true})
			for _, alias := range f.Aliases {
				out = append(out, Entry{Name: alias, CanonicalEntity: e, CanonicalField: f.Name, Seed: true})
			}
		}
	}
	return out
}

// Rank scores every entry against q, best first.
func (ix *Index) Rank(q Query) []Match {
	var out []Match
	for _, e := range ix.entries {
		if q.Entity != "" && e.CanonicalEntity != q.Entity {
			continue
		}
		target, ok := ix.contracts.FieldType(e.CanonicalEntity, e.CanonicalField)
		if !ok {
			continue
		}
		ns := NameScore(q.Field, e.Name)
		ts := TypeScore(q.Type, target)
		m := Match{
			Entry:              e,
			Score:              ns*nameWeight + ts*typeWeight,
			NameScore:          ns,
			TypeScore:          ts,
			SuggestedTransform: e.Transform,
		}
		if m.SuggestedTransform == "" {
			m.SuggestedTransform = TransformFor(q.Type, target)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Seed != b.Seed {
			return !a.Seed
		}
		if a.CanonicalEntity != b.CanonicalEntity {
			return a.CanonicalEntity < b.CanonicalEntity
		}
		return a.CanonicalField < b.CanonicalField
	})
	return out
}

// Best returns the top match when it clears minScore.
func (ix *Index) Best(q Query, minScore float64) (Match, bool) {
	ranked := ix.Rank(q)
	if len(ranked) == 0 || ranked[0].Score < minScore {
		return Match{}, false
	}
	return ranked[0], true
}
