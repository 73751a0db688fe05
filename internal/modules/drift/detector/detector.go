// Package detector diffs two fingerprints of the same key into drift tickets.
// It performs no I/O.
package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

// Confidence per change type. Assigned by policy, never learned.
const (
	ConfidenceEntityAdded        = 1.0
	ConfidenceFieldAdded         = 1.0
	ConfidenceFieldRemoved       = 0.75
	ConfidenceTypeChanged        = 0.90
	ConfidenceTypeChangedPartial = 0.85
)

type Input struct {
	Current *domain.Fingerprint
	// Prior is the latest stored fingerprint for the same key, nil on first capture.
	Prior *domain.Fingerprint
	// KnownEntities lists entities already fingerprinted for this tenant/source.
	KnownEntities []string
	// Samples are raw values per field used as repair context.
	Samples map[string][]string
}

type Result struct {
	Baseline bool
	// Unchanged is set when the current hash equals the prior hash.
	Unchanged bool
	Tickets   []*domain.DriftTicket
}

func Detect(in Input) (Result, error) {
	if in.Current == nil {
		return Result{}, fmt.Errorf("current fingerprint required")
	}
	cur := in.Current

	if in.Prior == nil {
		res := Result{Baseline: true}
		if len(in.KnownEntities) > 0 && !contains(in.KnownEntities, cur.Entity) {
			res.Tickets = append(res.Tickets, ticket(cur, nil, domain.ChangeEntityAdded, "", "", "", ConfidenceEntityAdded, nil))
		}
		return res, nil
	}
	prior := in.Prior
	if prior.TenantID != cur.TenantID || prior.SourceID != cur.SourceID || prior.Entity != cur.Entity {
		return Result{}, fmt.Errorf("fingerprints belong to different keys")
	}
	if prior.Hash == cur.Hash {
		return Result{Unchanged: true}, nil
	}

	oldFields, err := prior.FieldMap()
	if err != nil {
		return Result{}, fmt.Errorf("decode prior fields: %w", err)
	}
	newFields, err := cur.FieldMap()
	if err != nil {
		return Result{}, fmt.Errorf("decode current fields: %w", err)
	}

	// Sampled types tell integer from number by the values seen, so a batch
	// of whole floats is not a schema change. Catalog types are declared.
	sampled := prior.Method == domain.FingerprintMethodSample || cur.Method == domain.FingerprintMethodSample

	var out []*domain.DriftTicket
	for _, name := range sortedNames(newFields) {
		nf := newFields[name]
		of, existed := oldFields[name]
		if !existed {
			out = append(out, ticket(cur, prior, domain.ChangeFieldAdded, name, "", nf.Type, ConfidenceFieldAdded, in.Samples[name]))
			continue
		}
		if !typeChanged(of.Type, nf.Type, sampled) {
			continue
		}
		conf := ConfidenceTypeChanged
		if of.TypeDistribution[nf.Type] > 0 {
			conf = ConfidenceTypeChangedPartial
		}
		out = append(out, ticket(cur, prior, domain.ChangeTypeChanged, name, of.Type, nf.Type, conf, in.Samples[name]))
	}
	for _, name := range sortedNames(oldFields) {
		if _, still := newFields[name]; still {
			continue
		}
		out = append(out, ticket(cur, prior, domain.ChangeFieldRemovedOrRenamed, name, oldFields[name].Type, "", ConfidenceFieldRemoved, nil))
	}
	return Result{Tickets: out}, nil
}

// typeChanged ignores all-null observations. Integer/number moves are
// ignored only for sampled fingerprints.
func typeChanged(oldType, newType string, sampled bool) bool {
	if oldType == newType || oldType == "null" || newType == "null" {
		return false
	}
	numeric := func(t string) bool { return t == "integer" || t == "number" }
	return !sampled || !(numeric(oldType) && numeric(newType))
}

// DedupeKey identifies a change between two specific fingerprint hashes, so
// re-running detection over the same pair writes nothing new.
func DedupeKey(cur *domain.Fingerprint, priorHash string, change domain.ChangeType, field string) string {
	return strings.Join([]string{cur.TenantID, cur.SourceID, cur.Entity, string(change), field, priorHash, cur.Hash}, "|")
}

func ticket(cur, prior *domain.Fingerprint, change domain.ChangeType, field, oldV, newV string, conf float64, samples []string) *domain.DriftTicket {
	t := &domain.DriftTicket{
		ID:            uuid.New(),
		TenantID:      cur.TenantID,
		SourceID:      cur.SourceID,
		Entity:        cur.Entity,
		ChangeType:    change,
		FieldName:     field,
		OldValue:      oldV,
		NewValue:      newV,
		Confidence:    conf,
		Status:        domain.TicketStatusOpen,
		FingerprintID: cur.ID,
		SampleValues:  strings.Join(samples, "\n"),
		DetectedAt:    time.Now().UTC(),
	}
	priorHash := ""
	if prior != nil {
		id := prior.ID
		t.PriorFingerprintID = &id
		priorHash = prior.Hash
	}
	if change == domain.ChangeEntityAdded {
		t.Status = domain.TicketStatusInformational
	}
	t.DedupeKey = DedupeKey(cur, priorHash, change, field)
	return t
}

func sortedNames(m map[string]domain.FieldShape) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
