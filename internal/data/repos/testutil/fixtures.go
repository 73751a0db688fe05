package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

// SeedMapping inserts an active manual mapping at version 1.
func SeedMapping(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, sourceID, entity, field string) *domain.MappingEntry {
	tb.Helper()
	now := time.Now().UTC()
	m := &domain.MappingEntry{
		ID:              uuid.New(),
		TenantID:        tenantID,
		SourceID:        sourceID,
		Entity:          entity,
		SourceField:     field,
		Version:         1,
		CanonicalEntity: entity,
		CanonicalField:  field,
		Confidence:      1,
		Method:          domain.MethodManual,
		Active:          true,
		ApprovedBy:      "seed",
		CreatedAt:       now,
		ActivatedAt:     &now,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed mapping: %v", err)
	}
	return m
}

func SeedFingerprint(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, sourceID, entity string, fields map[string]domain.FieldShape) *domain.Fingerprint {
	tb.Helper()
	fp := &domain.Fingerprint{
		ID:         uuid.New(),
		TenantID:   tenantID,
		SourceID:   sourceID,
		Entity:     entity,
		Fields:     datatypes.JSON(mustJSON(tb, fields)),
		Hash:       uuid.NewString(),
		Method:     domain.FingerprintMethodSample,
		SampleSize: 1,
		CapturedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(fp).Error; err != nil {
		tb.Fatalf("seed fingerprint: %v", err)
	}
	return fp
}

// SeedTicket inserts an open field_added ticket for field.
func SeedTicket(tb testing.TB, ctx context.Context, tx *gorm.DB, fp *domain.Fingerprint, field string) *domain.DriftTicket {
	tb.Helper()
	now := time.Now().UTC()
	t := &domain.DriftTicket{
		ID:            uuid.New(),
		TenantID:      fp.TenantID,
		SourceID:      fp.SourceID,
		Entity:        fp.Entity,
		ChangeType:    domain.ChangeFieldAdded,
		FieldName:     field,
		NewValue:      "string",
		Confidence:    1,
		Status:        domain.TicketStatusOpen,
		DedupeKey:     uuid.NewString(),
		FingerprintID: fp.ID,
		DetectedAt:    now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed ticket: %v", err)
	}
	return t
}

func mustJSON(tb testing.TB, v any) []byte {
	tb.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal: %v", err)
	}
	return raw
}
