package driftscan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func withCycleLimit(t *testing.T, n int) {
	t.Helper()
	old := continueCycleLimit
	continueCycleLimit = n
	t.Cleanup(func() { continueCycleLimit = old })
}

type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(k string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[k]++
	return c.n[k]
}

func (c *counter) get(k string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[k]
}

func expectContinueAsNew(t *testing.T, env *testsuite.TestWorkflowEnvironment) {
	t.Helper()
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	var can *workflow.ContinueAsNewError
	if err := env.GetWorkflowError(); !errors.As(err, &can) {
		t.Fatalf("expected continue-as-new, got %v", err)
	}
}

func TestScanWorkflowScansEveryKeyEachCycle(t *testing.T) {
	withCycleLimit(t, 2)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	var seen counter
	env.RegisterActivityWithOptions(func(context.Context) ([]Key, error) {
		return []Key{{TenantID: "t1", SourceID: "crm", Entity: "account"}, {TenantID: "t1", SourceID: "crm", Entity: "contact"}}, nil
	}, activity.RegisterOptions{Name: ActivityListKeys})
	env.RegisterActivityWithOptions(func(_ context.Context, k Key) (ScanSummary, error) {
		seen.inc(k.Entity)
		return ScanSummary{Key: k, Unchanged: true}, nil
	}, activity.RegisterOptions{Name: ActivityScanKey})

	env.ExecuteWorkflow(ScanWorkflow, LoopInput{Interval: time.Minute})
	expectContinueAsNew(t, env)
	if seen.get("account") != 2 || seen.get("contact") != 2 {
		t.Fatalf("expected two scans per key, got %+v", seen.n)
	}
}

func TestScanWorkflowRetriesUnavailableSource(t *testing.T) {
	withCycleLimit(t, 1)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	var calls counter
	env.RegisterActivityWithOptions(func(context.Context) ([]Key, error) {
		return []Key{{TenantID: "t1", SourceID: "crm", Entity: "account"}}, nil
	}, activity.RegisterOptions{Name: ActivityListKeys})
	env.RegisterActivityWithOptions(func(_ context.Context, k Key) (ScanSummary, error) {
		if calls.inc(k.Entity) < 3 {
			return ScanSummary{}, errors.New("fingerprint unavailable: connection refused")
		}
		return ScanSummary{Key: k}, nil
	}, activity.RegisterOptions{Name: ActivityScanKey})

	env.ExecuteWorkflow(ScanWorkflow, LoopInput{Interval: time.Minute})
	expectContinueAsNew(t, env)
	if calls.get("account") != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.get("account"))
	}
}

func TestSweepWorkflowRunsEachInterval(t *testing.T) {
	withCycleLimit(t, 3)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	var sweeps counter
	env.RegisterActivityWithOptions(func(context.Context) (int, error) {
		sweeps.inc("sweep")
		return 1, nil
	}, activity.RegisterOptions{Name: ActivitySweep})

	env.ExecuteWorkflow(SweepWorkflow, LoopInput{Interval: time.Hour})
	expectContinueAsNew(t, env)
	if sweeps.get("sweep") != 3 {
		t.Fatalf("expected 3 sweeps, got %d", sweeps.get("sweep"))
	}
}

func TestScanKeyMarksOnlyUnavailableAsRetryable(t *testing.T) {
	k := Key{TenantID: "t1", SourceID: "crm", Entity: "account"}
	a := &Activities{Log: logger.Nop(), Scan: func(context.Context, fingerprint.Key) (*pipeline.ScanResult, error) {
		return nil, &drifterr.UnavailableError{SourceID: "crm", Entity: "account", Err: errors.New("timeout")}
	}}
	_, err := a.ScanKey(context.Background(), k)
	var appErr *temporal.ApplicationError
	if err == nil || errors.As(err, &appErr) {
		t.Fatalf("unavailable source must stay retryable, got %v", err)
	}

	a.Scan = func(context.Context, fingerprint.Key) (*pipeline.ScanResult, error) {
		return nil, drifterr.ErrMissingTenant
	}
	_, err = a.ScanKey(context.Background(), k)
	if !errors.As(err, &appErr) || !appErr.NonRetryable() {
		t.Fatalf("expected non-retryable error, got %v", err)
	}

	a.Scan = func(context.Context, fingerprint.Key) (*pipeline.ScanResult, error) {
		return &pipeline.ScanResult{Tickets: []*pipeline.TicketOutcome{{}, {}}}, nil
	}
	sum, err := a.ScanKey(context.Background(), k)
	if err != nil || sum.Tickets != 2 || sum.Key != k {
		t.Fatalf("unexpected summary %+v (%v)", sum, err)
	}
}
