package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/ctxutil"
)

type RawRecord struct {
	Op     string         `json:"op"`
	Fields map[string]any `json:"fields"`
}

type Rejection struct {
	Index      int                  `json:"index"`
	Error      string               `json:"error"`
	Violations []drifterr.Violation `json:"violations,omitempty"`
}

type CoercionFailure struct {
	Index int `json:"index"`
	canonical.FieldFailure
}

type IngestResult struct {
	Records          []*canonical.Record `json:"records"`
	Rejected         []Rejection         `json:"rejected"`
	CoercionFailures []CoercionFailure   `json:"coercion_failures"`
}

// Ingest maps and validates a batch of raw records for key against the
// currently active mappings. A bad record is reported and skipped; it never
// fails the batch.
func (s *Service) Ingest(ctx context.Context, key fingerprint.Key, batch []RawRecord) (*IngestResult, error) {
	if key.TenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	mappings, err := s.registry.ActiveFor(ctx, key.TenantID, key.SourceID, key.Entity)
	if err != nil {
		return nil, err
	}
	target := s.Target(key.TenantID, key.SourceID, key.Entity)
	traceID := ctxutil.TraceID(ctx)
	now := time.Now().UTC()

	res := &IngestResult{
		Records:          []*canonical.Record{},
		Rejected:         []Rejection{},
		CoercionFailures: []CoercionFailure{},
	}
	reject := func(r Rejection) {
		observability.Current().IncRecord(key.Entity, "rejected")
		res.Rejected = append(res.Rejected, r)
	}
	for i, raw := range batch {
		op, err := canonical.ParseOp(raw.Op)
		if err != nil {
			reject(Rejection{Index: i, Error: err.Error()})
			continue
		}
		draft, err := s.applicator.Apply(applicator.Input{
			Meta: canonical.SourceMeta{
				TenantID:   key.TenantID,
				SourceID:   key.SourceID,
				Entity:     key.Entity,
				ReceivedAt: now,
			},
			Target:   target,
			Op:       op,
			TraceID:  traceID,
			Raw:      raw.Fields,
			Mappings: mappings,
		})
		if err != nil {
			reject(Rejection{Index: i, Error: err.Error()})
			continue
		}
		for _, f := range draft.Failures {
			res.CoercionFailures = append(res.CoercionFailures, CoercionFailure{Index: i, FieldFailure: f})
		}
		rec, err := s.validator.Validate(draft)
		if err != nil {
			rej := Rejection{Index: i, Error: err.Error()}
			var ve *drifterr.ValidationError
			if errors.As(err, &ve) {
				rej.Violations = ve.Violations
			}
			reject(rej)
			continue
		}
		observability.Current().IncRecord(string(rec.Entity), "emitted")
		res.Records = append(res.Records, rec)
	}
	if len(res.Rejected) > 0 {
		s.log.Warn("ingest batch had rejections",
			"tenant_id", key.TenantID,
			"source_id", key.SourceID,
			"entity", key.Entity,
			"records", len(batch),
			"rejected", len(res.Rejected),
		)
	}
	return res, nil
}
