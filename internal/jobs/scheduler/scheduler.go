// Package scheduler runs periodic drift scans and review sweeps in process.
// It is the default when no Temporal cluster is configured.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/httpx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Config struct {
	ScanInterval  time.Duration
	SweepInterval time.Duration
	// Concurrency bounds how many keys are scanned at once.
	Concurrency int
	// MaxAttempts applies to unavailable sources only.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:  5 * time.Minute,
		SweepInterval: 10 * time.Minute,
		Concurrency:   8,
		MaxAttempts:   4,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    time.Minute,
	}
}

// ScanFunc scans one key.
type ScanFunc func(ctx context.Context, key fingerprint.Key) error

// SweepFunc expires overdue review items and reports how many it closed.
type SweepFunc func(ctx context.Context) (int, error)

type Scheduler struct {
	log   *logger.Logger
	cfg   Config
	keys  func() []fingerprint.Key
	scan  ScanFunc
	sweep SweepFunc

	inflight sync.Map
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(log *logger.Logger, cfg Config, keys func() []fingerprint.Key, scan ScanFunc, sweep SweepFunc) *Scheduler {
	d := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = d.ScanInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = d.SweepInterval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = d.BaseBackoff
	}
	return &Scheduler{
		log:   log.With("component", "DriftScheduler"),
		cfg:   cfg,
		keys:  keys,
		scan:  scan,
		sweep: sweep,
		sleep: httpx.SleepContext,
	}
}

// Start launches the scan and sweep loops; they stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting drift scheduler",
		"scan_interval", s.cfg.ScanInterval.String(),
		"sweep_interval", s.cfg.SweepInterval.String(),
		"concurrency", s.cfg.Concurrency,
	)
	go s.loop(ctx, "scan", s.cfg.ScanInterval, func(ctx context.Context) { s.ScanAll(ctx) })
	if s.sweep != nil {
		go s.loop(ctx, "sweep", s.cfg.SweepInterval, func(ctx context.Context) { s.Sweep(ctx) })
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	run(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler loop stopped", "loop", name)
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// ScanAll scans every key once with bounded fan-out. A key that is still
// being scanned from an earlier cycle is skipped. It returns the number of
// keys that failed.
func (s *Scheduler) ScanAll(ctx context.Context) int {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, key := range s.keys() {
		key := key
		if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
			s.log.Debug("scan already in flight", "tenant_id", key.TenantID, "source_id", key.SourceID, "entity", key.Entity)
			continue
		}
		g.Go(func() error {
			defer s.inflight.Delete(key)
			if err := s.scanWithRetry(ctx, key); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (s *Scheduler) scanWithRetry(ctx context.Context, key fingerprint.Key) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err = s.safeScan(ctx, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, drifterr.ErrFingerprintUnavailable) || attempt == s.cfg.MaxAttempts {
			break
		}
		wait := httpx.Backoff(attempt, s.cfg.BaseBackoff, s.cfg.MaxBackoff)
		s.log.Warn("source unavailable; retrying",
			"tenant_id", key.TenantID,
			"source_id", key.SourceID,
			"entity", key.Entity,
			"attempt", attempt,
			"sleep", wait.String(),
			"error", err,
		)
		if sErr := s.sleep(ctx, wait); sErr != nil {
			return sErr
		}
	}
	s.log.Error("drift scan failed",
		"tenant_id", key.TenantID,
		"source_id", key.SourceID,
		"entity", key.Entity,
		"error", err,
	)
	return err
}

func (s *Scheduler) safeScan(ctx context.Context, key fingerprint.Key) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("drift scan panic", "source_id", key.SourceID, "entity", key.Entity, "panic", r)
			err = errors.New("scan panic")
		}
	}()
	return s.scan(ctx, key)
}

func (s *Scheduler) Sweep(ctx context.Context) {
	n, err := s.sweep(ctx)
	if err != nil {
		s.log.Warn("review sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("review items expired", "count", n)
	}
}
