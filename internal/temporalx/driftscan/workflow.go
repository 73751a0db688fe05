package driftscan

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultInterval      = 5 * time.Minute
	continueHistoryLimit = 10000
)

var continueCycleLimit = 200

// ScanWorkflow scans every polled key once per interval. Keys in a cycle run
// in parallel; the next cycle starts only after all of them settle, so a key
// never has two scans in flight. Unavailable sources are retried by the
// activity retry policy with exponential backoff.
func ScanWorkflow(ctx workflow.Context, in LoopInput) error {
	interval := in.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	listCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	scanCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    4,
		},
	})
	log := workflow.GetLogger(ctx)

	for cycles := in.Cycles; ; cycles++ {
		var keys []Key
		if err := workflow.ExecuteActivity(listCtx, ActivityListKeys).Get(ctx, &keys); err != nil {
			return err
		}
		futures := make([]workflow.Future, 0, len(keys))
		for _, k := range keys {
			futures = append(futures, workflow.ExecuteActivity(scanCtx, ActivityScanKey, k))
		}
		failed := 0
		for i, f := range futures {
			var sum ScanSummary
			if err := f.Get(ctx, &sum); err != nil {
				failed++
				log.Warn("drift scan failed", "source_id", keys[i].SourceID, "entity", keys[i].Entity, "error", err)
			}
		}
		if failed > 0 {
			log.Warn("drift scan cycle finished with failures", "keys", len(keys), "failed", failed)
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, cycles+1-in.Cycles) {
			return workflow.NewContinueAsNewError(ctx, ScanWorkflow, LoopInput{Interval: interval, Cycles: cycles + 1})
		}
	}
}

// SweepWorkflow expires overdue review items once per interval.
func SweepWorkflow(ctx workflow.Context, in LoopInput) error {
	interval := in.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	for cycles := in.Cycles; ; cycles++ {
		var expired int
		if err := workflow.ExecuteActivity(ctx, ActivitySweep).Get(ctx, &expired); err != nil {
			workflow.GetLogger(ctx).Warn("review sweep failed", "error", err)
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, cycles+1-in.Cycles) {
			return workflow.NewContinueAsNewError(ctx, SweepWorkflow, LoopInput{Interval: interval, Cycles: cycles + 1})
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, cyclesThisRun int) bool {
	if cyclesThisRun >= continueCycleLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
