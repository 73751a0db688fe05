package driftscan

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Activities struct {
	Log *logger.Logger
	// Keys lists the polled keys.
	Keys func() []fingerprint.Key
	// Scan runs one key through the pipeline.
	Scan  func(ctx context.Context, key fingerprint.Key) (*pipeline.ScanResult, error)
	Sweep func(ctx context.Context) (int, error)
}

func (a *Activities) ListKeys(ctx context.Context) ([]Key, error) {
	keys := a.Keys()
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, Key{TenantID: k.TenantID, SourceID: k.SourceID, Entity: k.Entity})
	}
	return out, nil
}

// ScanKey returns a retryable error only when the source is unavailable.
func (a *Activities) ScanKey(ctx context.Context, k Key) (ScanSummary, error) {
	sum := ScanSummary{Key: k}
	res, err := a.Scan(ctx, fingerprint.Key{TenantID: k.TenantID, SourceID: k.SourceID, Entity: k.Entity})
	if err != nil {
		if errors.Is(err, drifterr.ErrFingerprintUnavailable) {
			return sum, err
		}
		return sum, temporal.NewNonRetryableApplicationError(err.Error(), "drift_scan", err)
	}
	sum.Baseline = res.Baseline
	sum.Unchanged = res.Unchanged
	sum.Tickets = len(res.Tickets)
	return sum, nil
}

func (a *Activities) SweepReviews(ctx context.Context) (int, error) {
	return a.Sweep(ctx)
}
