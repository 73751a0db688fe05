package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/httpx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx/driftscan"
)

type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	cfg  temporalx.Config
	acts *driftscan.Activities

	concurrency   int
	scanInterval  time.Duration
	sweepInterval time.Duration
}

type Options struct {
	Concurrency   int
	ScanInterval  time.Duration
	SweepInterval time.Duration
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, acts *driftscan.Activities, opts Options) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil || acts.Keys == nil || acts.Scan == nil || acts.Sweep == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{
		log:           log.With("component", "TemporalRunner"),
		tc:            tc,
		cfg:           cfg,
		acts:          acts,
		concurrency:   opts.Concurrency,
		scanInterval:  opts.ScanInterval,
		sweepInterval: opts.SweepInterval,
	}, nil
}

// Start polls the task queue until ctx is done, retrying worker start for up
// to a minute while the cluster comes up.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	deadline := time.Now().Add(time.Minute)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && r.cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, r.log, r.cfg)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("temporal worker start (namespace=%s): %w", r.cfg.Namespace, startErr)
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		if err := httpx.SleepContext(ctx, httpx.Backoff(attempt, 250*time.Millisecond, 5*time.Second)); err != nil {
			return err
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.concurrency,
	})
	w.RegisterWorkflowWithOptions(driftscan.ScanWorkflow, workflow.RegisterOptions{Name: driftscan.ScanWorkflowName})
	w.RegisterWorkflowWithOptions(driftscan.SweepWorkflow, workflow.RegisterOptions{Name: driftscan.SweepWorkflowName})
	w.RegisterActivityWithOptions(r.acts.ListKeys, activity.RegisterOptions{Name: driftscan.ActivityListKeys})
	w.RegisterActivityWithOptions(r.acts.ScanKey, activity.RegisterOptions{Name: driftscan.ActivityScanKey})
	w.RegisterActivityWithOptions(r.acts.SweepReviews, activity.RegisterOptions{Name: driftscan.ActivitySweep})
	return w
}

// EnsureLoops starts the singleton scan and sweep workflows. Fixed workflow
// IDs keep a second process from starting duplicates.
func (r *Runner) EnsureLoops(ctx context.Context) error {
	loops := []struct {
		id, name string
		every    time.Duration
	}{
		{driftscan.ScanWorkflowID, driftscan.ScanWorkflowName, r.scanInterval},
		{driftscan.SweepWorkflowID, driftscan.SweepWorkflowName, r.sweepInterval},
	}
	for _, l := range loops {
		_, err := r.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
			ID:        l.id,
			TaskQueue: r.cfg.TaskQueue,
		}, l.name, driftscan.LoopInput{Interval: l.every})
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if err != nil && !errors.As(err, &started) {
			return fmt.Errorf("start %s: %w", l.name, err)
		}
		r.log.Info("Temporal loop running", "workflow_id", l.id)
	}
	return nil
}
