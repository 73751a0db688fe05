package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos/testutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/gate"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/review"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/ctxutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/dbctx"
)

type fixture struct {
	svc   *Service
	reg   *registry.Registry
	repos repos.Repos
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set, err := contract.Default()
	if err != nil {
		t.Fatalf("contract.Default: %v", err)
	}
	r := repos.New(db, log)
	kb := similarity.NewKnowledgeBase(log, r.Knowledge, set)
	reg := registry.New(log, db, r.Mappings, registry.DefaultConfig(),
		registry.WithOnActivate(func(ctx context.Context, e *domain.MappingEntry) {
			_ = kb.Learn(ctx, e.TenantID, e, "")
		}))
	svc, err := New(log, Deps{
		DB:            db,
		Repos:         r,
		Contracts:     set,
		Fingerprinter: fingerprint.New(log, fingerprint.DefaultConfig()),
		Proposer:      repair.New(log, kb, set, nil, repair.DefaultConfig()),
		Gate:          gate.DefaultThresholds(),
		Registry:      reg,
		Review:        review.New(log, r, reg, review.DefaultConfig()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, reg: reg, repos: r}
}

var accountKey = fingerprint.Key{TenantID: "t1", SourceID: "crm", Entity: "account"}

func (f *fixture) seed(t *testing.T, fields ...string) {
	t.Helper()
	for _, name := range fields {
		_, err := f.reg.Upsert(context.Background(), registry.UpsertRequest{
			Key:             registry.FieldKey{TenantID: "t1", SourceID: "crm", Entity: "account", SourceField: name},
			CanonicalEntity: "account", CanonicalField: name,
			Confidence: 1.0, Method: domain.MethodManual, ApprovedBy: "ops@example.com",
		})
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
}

func (f *fixture) snapshot(t *testing.T, recs ...map[string]any) *ScanResult {
	t.Helper()
	res, err := f.svc.Snapshot(context.Background(), accountKey, recs)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return res
}

func TestTierAddedIsAutoAppliedAndMapped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "id", "name")

	if res := f.snapshot(t, map[string]any{"id": "1", "name": "Acme"}); !res.Baseline || len(res.Tickets) != 0 {
		t.Fatalf("first capture must be a silent baseline, got %+v", res)
	}
	res := f.snapshot(t, map[string]any{"id": "2", "name": "Beta", "tier": "Silver"})
	if len(res.Tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(res.Tickets))
	}
	out := res.Tickets[0]
	if out.Ticket.ChangeType != domain.ChangeFieldAdded || out.Ticket.FieldName != "tier" {
		t.Fatalf("unexpected ticket %+v", out.Ticket)
	}
	if out.Decision == nil || out.Decision.Action != string(gate.ActionAutoApply) {
		t.Fatalf("expected auto_apply, got %+v (proposal %+v)", out.Decision, out.Proposal)
	}
	if out.Mapping == nil || !out.Mapping.Active || out.Mapping.CanonicalField != "tier" {
		t.Fatalf("expected active tier mapping, got %+v", out.Mapping)
	}
	if out.Ticket.Status != domain.TicketStatusApplied {
		t.Fatalf("ticket should be applied, got %s", out.Ticket.Status)
	}

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "trace-1"})
	ing, err := f.svc.Ingest(ctx, accountKey, []RawRecord{{Fields: map[string]any{"id": "1", "name": "Acme", "tier": "Gold"}}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(ing.Records) != 1 || len(ing.Rejected) != 0 {
		t.Fatalf("expected one record, got %+v", ing)
	}
	rec := ing.Records[0]
	acct, ok := rec.Data.(*canonical.Account)
	if !ok {
		t.Fatalf("expected account payload, got %T", rec.Data)
	}
	if acct.ID != "1" || acct.Name != "Acme" || acct.Tier == nil || *acct.Tier != "Gold" {
		t.Fatalf("unexpected payload %+v", acct)
	}
	if len(rec.UnmappedFields) != 0 || rec.TraceID != "trace-1" || rec.SourceMeta.TenantID != "t1" {
		t.Fatalf("unexpected record envelope %+v", rec)
	}
}

func TestRevenueRenameYieldsTwoIndependentTickets(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "id", "name")
	f.snapshot(t, map[string]any{"id": "1", "name": "A", "revenue_annual": 100.5})
	res := f.snapshot(t, map[string]any{"id": "1", "name": "A", "annual_revenue": 100.5})
	if len(res.Tickets) != 2 {
		t.Fatalf("expected two tickets, got %d", len(res.Tickets))
	}
	byField := map[string]*TicketOutcome{}
	for _, o := range res.Tickets {
		byField[o.Ticket.FieldName] = o
	}
	added, removed := byField["annual_revenue"], byField["revenue_annual"]
	if added == nil || removed == nil {
		t.Fatalf("missing ticket: %+v", byField)
	}
	if added.Decision.Action != string(gate.ActionAutoApply) {
		t.Fatalf("annual_revenue should auto-apply, got %s", added.Decision.Action)
	}
	if removed.Ticket.ChangeType != domain.ChangeFieldRemovedOrRenamed || removed.Ticket.Confidence != 0.75 {
		t.Fatalf("unexpected removal ticket %+v", removed.Ticket)
	}
	if removed.Decision.Action != string(gate.ActionQueueForReview) || removed.Review == nil || removed.Review.Kind != domain.ReviewKindRemoval {
		t.Fatalf("removal must be queued for review, got %+v", removed)
	}
	if removed.Proposal.Confidence != 0.75 {
		t.Fatalf("removal confidence must not be boosted, got %v", removed.Proposal.Confidence)
	}
}

func TestRescanOfUnchangedSourceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := map[string]any{"id": "1", "name": "A", "tier": "Gold"}
	f.snapshot(t, map[string]any{"id": "1", "name": "A"})
	first := f.snapshot(t, rec)
	if len(first.Tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(first.Tickets))
	}
	for i := 0; i < 3; i++ {
		again := f.snapshot(t, rec)
		if !again.Unchanged || len(again.Tickets) != 0 {
			t.Fatalf("rescan %d produced drift: %+v", i, again)
		}
		if again.Fingerprint == nil || again.Fingerprint.ID != first.Fingerprint.ID {
			t.Fatalf("rescan should report the stored fingerprint")
		}
	}
	tickets, err := f.svc.ListTickets(context.Background(), "t1", repos.TicketFilter{})
	if err != nil || len(tickets) != 1 {
		t.Fatalf("expected one stored ticket, got %d (%v)", len(tickets), err)
	}
	history, _ := f.svc.Fingerprints(context.Background(), accountKey, 10)
	if len(history) != 2 {
		t.Fatalf("expected two fingerprints in history, got %d", len(history))
	}
}

func TestLowConfidenceIsRejectedAndCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.snapshot(t, map[string]any{"id": "1"})
	res := f.snapshot(t, map[string]any{"id": "1", "qzxv_flag": true})
	if len(res.Tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(res.Tickets))
	}
	out := res.Tickets[0]
	if out.Decision.Action != string(gate.ActionReject) || out.Ticket.Status != domain.TicketStatusRejected {
		t.Fatalf("expected reject, got %+v", out.Decision)
	}
	if out.Mapping != nil || out.Review != nil {
		t.Fatalf("rejected proposal must not touch the registry or queue")
	}

	again, err := f.svc.RepairTicket(context.Background(), "t1", out.Ticket.ID)
	if err != nil {
		t.Fatalf("RepairTicket: %v", err)
	}
	if again.Decision.Action != string(gate.ActionReject) {
		t.Fatalf("expected reject on retry, got %s", again.Decision.Action)
	}
	rows, err := f.repos.GateDecisions.ListByTicket(dbctx.Background(context.Background()), "t1", out.Ticket.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("every decision must be audited, got %d (%v)", len(rows), err)
	}
}

func TestRepairTicketRefusesDecidedAndForeignTickets(t *testing.T) {
	f := newFixture(t)
	f.snapshot(t, map[string]any{"id": "1"})
	res := f.snapshot(t, map[string]any{"id": "1", "tier": "Gold"})
	id := res.Tickets[0].Ticket.ID

	if _, err := f.svc.RepairTicket(context.Background(), "t1", id); !errors.Is(err, drifterr.ErrAlreadyDecided) {
		t.Fatalf("applied ticket should be decided, got %v", err)
	}
	if _, err := f.svc.RepairTicket(context.Background(), "t2", id); !errors.Is(err, drifterr.ErrNotFound) {
		t.Fatalf("other tenant must not see the ticket, got %v", err)
	}
	if _, err := f.svc.RepairTicket(context.Background(), "", id); !errors.Is(err, drifterr.ErrMissingTenant) {
		t.Fatalf("expected missing tenant, got %v", err)
	}
}

func TestNewEntityTicketIsInformational(t *testing.T) {
	f := newFixture(t)
	f.snapshot(t, map[string]any{"id": "1"})
	res, err := f.svc.Snapshot(context.Background(), fingerprint.Key{TenantID: "t1", SourceID: "crm", Entity: "contact"},
		[]map[string]any{{"id": "c1", "email": "a@b.co"}})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !res.Baseline || len(res.Tickets) != 1 {
		t.Fatalf("expected baseline with entity_added ticket, got %+v", res)
	}
	tk := res.Tickets[0].Ticket
	if tk.ChangeType != domain.ChangeEntityAdded || tk.Status != domain.TicketStatusInformational {
		t.Fatalf("unexpected ticket %+v", tk)
	}
}

func TestIngestReportsBadRecordsWithoutFailingBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "id", "name", "employee_count")
	batch := []RawRecord{
		{Fields: map[string]any{"id": "1", "name": "Acme", "employee_count": "250"}},
		{Fields: map[string]any{"name": "No Id"}},
		{Op: "merge", Fields: map[string]any{"id": "3"}},
		{Fields: map[string]any{"id": "4", "name": "Dash", "employee_count": "lots", "legacy_code": "X9"}},
		{Op: "delete", Fields: map[string]any{"id": "5"}},
	}
	res, err := f.svc.Ingest(context.Background(), accountKey, batch)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 3 || len(res.Rejected) != 2 {
		t.Fatalf("expected 3 records and 2 rejections, got %d/%d: %+v", len(res.Records), len(res.Rejected), res.Rejected)
	}
	if res.Rejected[0].Index != 1 || len(res.Rejected[0].Violations) == 0 || res.Rejected[1].Index != 2 {
		t.Fatalf("unexpected rejections %+v", res.Rejected)
	}
	if len(res.CoercionFailures) != 1 || res.CoercionFailures[0].Index != 3 || res.CoercionFailures[0].SourceField != "employee_count" {
		t.Fatalf("unexpected coercion failures %+v", res.CoercionFailures)
	}
	acct := res.Records[0].Data.(*canonical.Account)
	if acct.EmployeeCount == nil || *acct.EmployeeCount != 250 {
		t.Fatalf("employee_count should be coerced, got %+v", acct.EmployeeCount)
	}
	if res.Records[1].UnmappedFields["legacy_code"] != "X9" {
		t.Fatalf("unmapped field lost: %+v", res.Records[1].UnmappedFields)
	}
	if res.Records[2].Op != canonical.OpDelete {
		t.Fatalf("expected delete op, got %s", res.Records[2].Op)
	}
}

func TestSnapshotRequiresRecords(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Snapshot(context.Background(), accountKey, nil); !errors.Is(err, drifterr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
