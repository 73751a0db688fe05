package repair

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type emptyStore struct{}

func (emptyStore) Record(dbctx.Context, *domain.KnowledgeEntry) error { return nil }
func (emptyStore) ListByTenant(dbctx.Context, string) ([]*domain.KnowledgeEntry, error) {
	return nil, nil
}

type genFunc func(ctx context.Context) (map[string]any, error)

func (f genFunc) GenerateJSON(ctx context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
	return f(ctx)
}

func newProposer(t *testing.T, gen Generator, cfg Config) *Proposer {
	t.Helper()
	set, err := contract.Default()
	if err != nil {
		t.Fatalf("contract.Default: %v", err)
	}
	kb := similarity.NewKnowledgeBase(logger.Nop(), emptyStore{}, set)
	return New(logger.Nop(), kb, set, gen, cfg)
}

func added(field, typ string) *domain.DriftTicket {
	return &domain.DriftTicket{
		ID: uuid.New(), TenantID: "t1", SourceID: "crm", Entity: "account",
		ChangeType: domain.ChangeFieldAdded, FieldName: field, NewValue: typ, Confidence: 1.0,
	}
}

func mustNotCall(t *testing.T) Generator {
	return genFunc(func(context.Context) (map[string]any, error) {
		t.Errorf("generator must not be called on a fast-path hit")
		return nil, errors.New("unexpected")
	})
}

func TestFastPathHit(t *testing.T) {
	p := newProposer(t, mustNotCall(t), DefaultConfig())
	prop, err := p.Propose(context.Background(), Request{Ticket: added("annual_revenue", "number"), Target: canonical.EntityAccount})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.Method != domain.MethodSimilarity || prop.CanonicalField != "annual_revenue" || prop.Confidence < 0.85 {
		t.Fatalf("unexpected proposal %+v", prop)
	}
	prop, _ = p.Propose(context.Background(), Request{Ticket: added("Tier", "string"), Target: canonical.EntityAccount})
	if prop.CanonicalField != "tier" || prop.Confidence < 0.999 {
		t.Fatalf("tier should be an exact hit, got %+v", prop)
	}
}

func TestRemovalIsAmbiguous(t *testing.T) {
	p := newProposer(t, nil, DefaultConfig())
	tk := &domain.DriftTicket{
		ID: uuid.New(), TenantID: "t1", SourceID: "crm", Entity: "account",
		ChangeType: domain.ChangeFieldRemovedOrRenamed, FieldName: "revenue_annual", Confidence: 0.75,
	}
	prop, err := p.Propose(context.Background(), Request{Ticket: tk})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !prop.Ambiguous || prop.Retire != "revenue_annual" || prop.Complete() || prop.Confidence != 0.75 {
		t.Fatalf("unexpected removal proposal %+v", prop)
	}
}

func TestTypeChangeCarriesMappingOver(t *testing.T) {
	p := newProposer(t, nil, DefaultConfig())
	tk := &domain.DriftTicket{
		ID: uuid.New(), TenantID: "t1", SourceID: "crm", Entity: "account",
		ChangeType: domain.ChangeTypeChanged, FieldName: "headcount", OldValue: "integer", NewValue: "string", Confidence: 0.90,
	}
	cur := &domain.MappingEntry{SourceField: "headcount", CanonicalEntity: "account", CanonicalField: "employee_count", Active: true}
	prop, err := p.Propose(context.Background(), Request{Ticket: tk, Current: cur})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.Method != domain.MethodCarryOver || prop.CanonicalField != "employee_count" || prop.Transform != "integer" || prop.Confidence != 0.90 {
		t.Fatalf("unexpected carry-over %+v", prop)
	}
}

func TestSlowPathGenerates(t *testing.T) {
	gen := genFunc(func(context.Context) (map[string]any, error) {
		return map[string]any{
			"canonical_entity": "account",
			"canonical_field":  "industry",
			"transform":        "rot13",
			"rationale":        "values look like sectors",
		}, nil
	})
	p := newProposer(t, gen, DefaultConfig())
	prop, err := p.Propose(context.Background(), Request{Ticket: added("zz_biz_kind", "string"), Target: canonical.EntityAccount})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.Method != domain.MethodGenerative || prop.CanonicalField != "industry" || prop.Confidence != 0.75 {
		t.Fatalf("unexpected generative proposal %+v", prop)
	}
	if prop.Transform != "" {
		t.Fatalf("unknown transform should be replaced, got %q", prop.Transform)
	}
}

func TestSlowPathRejectsUnknownTarget(t *testing.T) {
	gen := genFunc(func(context.Context) (map[string]any, error) {
		return map[string]any{"canonical_entity": "account", "canonical_field": "favorite_color", "transform": "", "rationale": ""}, nil
	})
	p := newProposer(t, gen, DefaultConfig())
	prop, err := p.Propose(context.Background(), Request{Ticket: added("zz_biz_kind", "string")})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !prop.Ambiguous || prop.Complete() {
		t.Fatalf("expected ambiguous incomplete proposal, got %+v", prop)
	}
}

func TestSlowPathTimeoutDemotes(t *testing.T) {
	gen := genFunc(func(ctx context.Context) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.GenerativeTimeout = 20 * time.Millisecond
	p := newProposer(t, gen, cfg)
	prop, err := p.Propose(context.Background(), Request{Ticket: added("zz_biz_kind", "string")})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !prop.TimedOut || prop.Complete() || prop.Method != domain.MethodGenerative {
		t.Fatalf("expected timed out proposal, got %+v", prop)
	}
}

func TestSlowPathPoolIsBounded(t *testing.T) {
	var inflight, peak int32
	gen := genFunc(func(context.Context) (map[string]any, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return map[string]any{"canonical_entity": "account", "canonical_field": "industry", "transform": "", "rationale": "x"}, nil
	})
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	p := newProposer(t, gen, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Propose(context.Background(), Request{Ticket: added("zz_biz_kind", "string")}); err != nil {
				t.Errorf("Propose: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent generator calls, saw %d", peak)
	}
}

func TestTimedOutCallKeepsItsSlotUntilItReturns(t *testing.T) {
	var calls int32
	unblock := make(chan struct{})
	gen := genFunc(func(context.Context) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		<-unblock
		return map[string]any{"canonical_entity": "account", "canonical_field": "industry", "transform": "", "rationale": "x"}, nil
	})
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.GenerativeTimeout = 20 * time.Millisecond
	p := newProposer(t, gen, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		prop, err := p.Propose(ctx, Request{Ticket: added("zz_biz_kind", "string")})
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if !prop.TimedOut {
			t.Fatalf("call %d should time out, got %+v", i, prop)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("second call must wait for the stuck generator, saw %d calls", n)
	}

	close(unblock)
	deadline := time.Now().Add(time.Second)
	for !p.pool.TryAcquire(1) {
		if time.Now().After(deadline) {
			t.Fatalf("slot was not released after the generator returned")
		}
		time.Sleep(time.Millisecond)
	}
	p.pool.Release(1)

	prop, err := p.Propose(ctx, Request{Ticket: added("zz_biz_kind", "string")})
	if err != nil || prop.TimedOut || prop.CanonicalField != "industry" {
		t.Fatalf("expected a generated proposal once the slot frees, got %+v err=%v", prop, err)
	}
}

func TestMissWithoutGeneratorUsesBestCandidate(t *testing.T) {
	p := newProposer(t, nil, DefaultConfig())
	prop, err := p.Propose(context.Background(), Request{Ticket: added("acct_tier_lvl", "string"), Target: canonical.EntityAccount})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.Method != domain.MethodSimilarity || prop.Confidence >= 0.85 {
		t.Fatalf("expected below-threshold similarity proposal, got %+v", prop)
	}
}

func TestNonRepairableTickets(t *testing.T) {
	p := newProposer(t, nil, DefaultConfig())
	tk := added("", "")
	tk.ChangeType = domain.ChangeEntityAdded
	if _, err := p.Propose(context.Background(), Request{Ticket: tk}); !errors.Is(err, drifterr.ErrNotRepairable) {
		t.Fatalf("expected ErrNotRepairable, got %v", err)
	}
	tk = added("x", "string")
	tk.TenantID = ""
	if _, err := p.Propose(context.Background(), Request{Ticket: tk}); !errors.Is(err, drifterr.ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}
