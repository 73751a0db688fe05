package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func keys(n int) func() []fingerprint.Key {
	out := make([]fingerprint.Key, n)
	for i := range out {
		out[i] = fingerprint.Key{TenantID: "t1", SourceID: "crm", Entity: string(rune('a' + i))}
	}
	return func() []fingerprint.Key { return out }
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestScanAllBoundsConcurrency(t *testing.T) {
	var cur, peak int32
	scan := func(ctx context.Context, key fingerprint.Key) error {
		n := atomic.AddInt32(&cur, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return nil
	}
	s := New(logger.Nop(), Config{Concurrency: 3}, keys(10), scan, nil)
	if failed := s.ScanAll(context.Background()); failed != 0 {
		t.Fatalf("expected no failures, got %d", failed)
	}
	if peak > 3 {
		t.Fatalf("peak concurrency %d exceeds limit", peak)
	}
}

func TestUnavailableSourceIsRetriedWithBackoff(t *testing.T) {
	var calls int32
	scan := func(ctx context.Context, key fingerprint.Key) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &drifterr.UnavailableError{SourceID: key.SourceID, Entity: key.Entity, Err: errors.New("connection refused")}
		}
		return nil
	}
	var waits []time.Duration
	s := New(logger.Nop(), Config{Concurrency: 1, MaxAttempts: 4, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}, keys(1), scan, nil)
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	if failed := s.ScanAll(context.Background()); failed != 0 {
		t.Fatalf("expected recovery, got %d failures", failed)
	}
	if calls != 3 || len(waits) != 2 {
		t.Fatalf("expected 3 calls and 2 waits, got %d/%d", calls, len(waits))
	}
	if waits[1] < waits[0] {
		t.Fatalf("backoff should grow: %v", waits)
	}
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	var calls int32
	scan := func(context.Context, fingerprint.Key) error {
		atomic.AddInt32(&calls, 1)
		return drifterr.ErrMissingTenant
	}
	s := New(logger.Nop(), Config{MaxAttempts: 5}, keys(1), scan, nil)
	s.sleep = noSleep
	if failed := s.ScanAll(context.Background()); failed != 1 || calls != 1 {
		t.Fatalf("expected a single failed attempt, got failed=%d calls=%d", failed, calls)
	}
}

func TestKeyIsNeverScannedTwiceConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32
	scan := func(context.Context, fingerprint.Key) error {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return nil
	}
	s := New(logger.Nop(), Config{Concurrency: 4}, keys(1), scan, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ScanAll(context.Background())
	}()
	<-started
	s.ScanAll(context.Background())
	close(release)
	wg.Wait()
	if calls != 1 {
		t.Fatalf("overlapping cycle must skip the busy key, got %d scans", calls)
	}
}

func TestPanicIsContained(t *testing.T) {
	scan := func(context.Context, fingerprint.Key) error { panic("boom") }
	s := New(logger.Nop(), Config{}, keys(2), scan, nil)
	if failed := s.ScanAll(context.Background()); failed != 2 {
		t.Fatalf("expected both keys to fail, got %d", failed)
	}
}

func TestStartRunsSweepImmediately(t *testing.T) {
	swept := make(chan struct{}, 1)
	sweep := func(context.Context) (int, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return 1, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(logger.Nop(), Config{ScanInterval: time.Hour, SweepInterval: time.Hour}, keys(0), func(context.Context, fingerprint.Key) error { return nil }, sweep)
	s.Start(ctx)
	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweep did not run")
	}
}
