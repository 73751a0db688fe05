package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos/testutil"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	httpH "github.com/ilyacantor/autonomos-platform-sub006/internal/http/handlers"
	httpMW "github.com/ilyacantor/autonomos-platform-sub006/internal/http/middleware"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/gate"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/review"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/similarity"
)

type testServer struct {
	engine *gin.Engine
	ticket *domain.DriftTicket
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set, err := contract.Default()
	if err != nil {
		t.Fatalf("contract.Default: %v", err)
	}
	ctx := context.Background()
	testutil.SeedMapping(t, ctx, db, "t1", "crm", "account", "id")
	testutil.SeedMapping(t, ctx, db, "t1", "crm", "account", "name")
	fp := testutil.SeedFingerprint(t, ctx, db, "t1", "crm", "account", map[string]domain.FieldShape{
		"id":   {Type: "string"},
		"name": {Type: "string"},
		"tier": {Type: "string"},
	})
	ticket := testutil.SeedTicket(t, ctx, db, fp, "tier")

	r := repos.New(db, log)
	kb := similarity.NewKnowledgeBase(log, r.Knowledge, set)
	reg := registry.New(log, db, r.Mappings, registry.DefaultConfig())
	rv := review.New(log, r, reg, review.DefaultConfig())
	svc, err := pipeline.New(log, pipeline.Deps{
		DB:            db,
		Repos:         r,
		Contracts:     set,
		Fingerprinter: fingerprint.New(log, fingerprint.DefaultConfig()),
		Proposer:      repair.New(log, kb, set, nil, repair.DefaultConfig()),
		Gate:          gate.DefaultThresholds(),
		Registry:      reg,
		Review:        rv,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	am, err := httpMW.NewAuthMiddleware(log, httpMW.AuthConfig{Disabled: true})
	if err != nil {
		t.Fatalf("NewAuthMiddleware: %v", err)
	}
	engine := NewRouter(RouterConfig{
		AuthMiddleware:  am,
		MappingHandler:  httpH.NewMappingHandler(reg, set, svc),
		DriftHandler:    httpH.NewDriftHandler(svc, nil),
		ApprovalHandler: httpH.NewApprovalHandler(rv),
		HealthHandler:   httpH.NewHealthHandler(nil),
	})
	return &testServer{engine: engine, ticket: ticket}
}

func (s *testServer) do(t *testing.T, method, path, tenant string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(httpMW.HeaderTenantID, tenant)
	}
	req.Header.Set(httpMW.HeaderActor, "ops@example.com")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthcheck(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, stdhttp.MethodGet, "/healthcheck", "", nil)
	if w.Code != stdhttp.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	w, _ = s.do(t, stdhttp.MethodGet, "/metrics", "", nil)
	if w.Code != stdhttp.StatusNotFound {
		t.Fatalf("metrics should be disabled, got %d", w.Code)
	}
}

func TestMissingMappingSuggestsRepairThenRepairActivates(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, stdhttp.MethodGet, "/mappings/crm/account/tier", "t1", nil)
	if w.Code != stdhttp.StatusNotFound || errorCode(body) != "mapping_not_found" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	details, _ := body["error"].(map[string]any)["details"].(map[string]any)
	if details["suggestion"] == nil || details["ticket_id"] != s.ticket.ID.String() {
		t.Fatalf("expected suggestion with ticket id, got %v", details)
	}

	w, body = s.do(t, stdhttp.MethodPost, "/drift/repair", "t1", map[string]any{"ticket_id": s.ticket.ID.String()})
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("repair status=%d body=%s", w.Code, w.Body.String())
	}
	decision, _ := body["decision"].(map[string]any)
	if decision["action"] != string(gate.ActionAutoApply) {
		t.Fatalf("expected auto_apply, got %v", body)
	}

	w, body = s.do(t, stdhttp.MethodGet, "/mappings/crm/account/tier", "t1", nil)
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	m, _ := body["mapping"].(map[string]any)
	if m["canonical_field"] != "tier" || m["active"] != true {
		t.Fatalf("unexpected mapping %v", m)
	}

	// decided tickets are not repaired twice
	w, body = s.do(t, stdhttp.MethodPost, "/drift/repair", "t1", map[string]any{"ticket_id": s.ticket.ID.String()})
	if w.Code != stdhttp.StatusConflict || errorCode(body) != "already_decided" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRepairErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		tenant string
		body   any
		want   int
	}{
		{"bad id", "t1", map[string]any{"ticket_id": "nope"}, stdhttp.StatusBadRequest},
		{"unknown", "t1", map[string]any{"ticket_id": "5b1f3c9e-6a39-4c1e-9b2a-000000000000"}, stdhttp.StatusNotFound},
		{"other tenant", "t2", map[string]any{"ticket_id": s.ticket.ID.String()}, stdhttp.StatusNotFound},
		{"no tenant", "", map[string]any{"ticket_id": s.ticket.ID.String()}, stdhttp.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := s.do(t, stdhttp.MethodPost, "/drift/repair", tc.tenant, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestUpsertMapping(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"source_id": "crm", "entity": "account", "source_field": "acct_tier",
		"canonical_entity": "account", "canonical_field": "tier",
	}
	w, out := s.do(t, stdhttp.MethodPost, "/mappings", "t1", body)
	if w.Code != stdhttp.StatusCreated || out["changed"] != true {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	m, _ := out["mapping"].(map[string]any)
	if m["approved_by"] != "ops@example.com" || m["method"] != domain.MethodManual {
		t.Fatalf("unexpected entry %v", m)
	}

	// the read path sees the write immediately
	w, _ = s.do(t, stdhttp.MethodGet, "/mappings/crm/account/acct_tier", "t1", nil)
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w, out = s.do(t, stdhttp.MethodPost, "/mappings", "t1", body)
	if w.Code != stdhttp.StatusCreated || out["changed"] != false {
		t.Fatalf("repeat upsert should be a no-op, got %d %s", w.Code, w.Body.String())
	}

	w, out = s.do(t, stdhttp.MethodGet, "/api/mappings/crm/account/acct_tier/versions", "t1", nil)
	if vs, _ := out["versions"].([]any); w.Code != stdhttp.StatusOK || len(vs) != 1 {
		t.Fatalf("expected one version, got %d %s", w.Code, w.Body.String())
	}

	bad := map[string]any{
		"source_id": "crm", "entity": "account", "source_field": "x",
		"canonical_entity": "account", "canonical_field": "nonexistent",
	}
	w, out = s.do(t, stdhttp.MethodPost, "/mappings", "t1", bad)
	if w.Code != stdhttp.StatusBadRequest || errorCode(out) != "invalid_argument" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	bad["canonical_field"] = "tier"
	bad["transform"] = "rot13"
	w, _ = s.do(t, stdhttp.MethodPost, "/mappings", "t1", bad)
	if w.Code != stdhttp.StatusBadRequest {
		t.Fatalf("unknown transform should be rejected, got %d", w.Code)
	}
}

func TestMappingRollback(t *testing.T) {
	s := newTestServer(t)
	post := func(field string) map[string]any {
		w, out := s.do(t, stdhttp.MethodPost, "/mappings", "t1", map[string]any{
			"source_id": "crm", "entity": "account", "source_field": "seg",
			"canonical_entity": "account", "canonical_field": field,
		})
		if w.Code != stdhttp.StatusCreated {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		m, _ := out["mapping"].(map[string]any)
		return m
	}
	v1 := post("tier")
	post("name")

	w, _ := s.do(t, stdhttp.MethodPost, "/api/mappings/"+v1["id"].(string)+"/activate", "t1", nil)
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("activate status=%d body=%s", w.Code, w.Body.String())
	}
	_, out := s.do(t, stdhttp.MethodGet, "/mappings/crm/account/seg", "t1", nil)
	if m, _ := out["mapping"].(map[string]any); m["canonical_field"] != "tier" {
		t.Fatalf("expected rollback to tier, got %v", out)
	}

	w, _ = s.do(t, stdhttp.MethodPost, "/api/mappings/"+v1["id"].(string)+"/deactivate", "t1", nil)
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("deactivate status=%d body=%s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, stdhttp.MethodGet, "/mappings/crm/account/seg", "t1", nil)
	if w.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 after deactivate, got %d", w.Code)
	}
}

func TestSnapshotIngestAndListings(t *testing.T) {
	s := newTestServer(t)
	w, out := s.do(t, stdhttp.MethodPost, "/api/sources/billing/account/snapshot", "t1", map[string]any{
		"records": []map[string]any{{"id": "1", "name": "Acme"}},
	})
	if w.Code != stdhttp.StatusOK || out["baseline"] != true {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, stdhttp.MethodPost, "/api/sources/billing/account/snapshot", "t1", map[string]any{"records": []any{}})
	if w.Code != stdhttp.StatusBadRequest {
		t.Fatalf("empty snapshot should be rejected, got %d", w.Code)
	}
	w, out = s.do(t, stdhttp.MethodGet, "/api/sources/billing/account/fingerprints", "t1", nil)
	if fps, _ := out["fingerprints"].([]any); w.Code != stdhttp.StatusOK || len(fps) != 1 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w, out = s.do(t, stdhttp.MethodPost, "/api/ingest/crm/account", "t1", map[string]any{
		"records": []map[string]any{
			{"fields": map[string]any{"id": "1", "name": "Acme"}},
			{"fields": map[string]any{"name": "NoID"}},
			{"op": "delete", "fields": map[string]any{"id": "9"}},
		},
	})
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	recs, _ := out["records"].([]any)
	rejected, _ := out["rejected"].([]any)
	if len(recs) != 2 || len(rejected) != 1 {
		t.Fatalf("expected 2 records and 1 rejection, got %s", w.Body.String())
	}

	w, out = s.do(t, stdhttp.MethodGet, "/api/drift/tickets?status=open", "t1", nil)
	if ts, _ := out["tickets"].([]any); w.Code != stdhttp.StatusOK || len(ts) != 1 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w, out = s.do(t, stdhttp.MethodGet, "/api/drift/tickets", "t2", nil)
	if ts, _ := out["tickets"].([]any); w.Code != stdhttp.StatusOK || len(ts) != 0 {
		t.Fatalf("tickets must be tenant scoped, got %s", w.Body.String())
	}
}

func TestIngestKeepsLargeIntegersVerbatim(t *testing.T) {
	s := newTestServer(t)
	const big = "12345678901234567890"
	w, _ := s.do(t, stdhttp.MethodPost, "/api/ingest/crm/account", "t1",
		json.RawMessage(`{"records":[{"fields":{"id":"1","name":"Acme","legacy_ref":`+big+`}}]}`))
	if w.Code != stdhttp.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Records []struct {
			UnmappedFields map[string]json.RawMessage `json:"unmapped_fields"`
		} `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %s", w.Body.String())
	}
	if got := string(out.Records[0].UnmappedFields["legacy_ref"]); got != big {
		t.Fatalf("legacy_ref = %s, want %s", got, big)
	}
}

func TestApprovals(t *testing.T) {
	s := newTestServer(t)
	w, out := s.do(t, stdhttp.MethodGet, "/api/approvals", "t1", nil)
	if items, _ := out["items"].([]any); w.Code != stdhttp.StatusOK || len(items) != 0 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, stdhttp.MethodGet, "/api/approvals?status=bogus", "t1", nil)
	if w.Code != stdhttp.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	unknown := "/approvals/5b1f3c9e-6a39-4c1e-9b2a-000000000000"
	w, _ = s.do(t, stdhttp.MethodPost, unknown+"/approve", "t1", nil)
	if w.Code != stdhttp.StatusNotFound {
		t.Fatalf("approve unknown status=%d body=%s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, stdhttp.MethodPost, unknown+"/reject", "t1", map[string]any{"reason": "no"})
	if w.Code != stdhttp.StatusNotFound {
		t.Fatalf("reject unknown status=%d", w.Code)
	}
	w, _ = s.do(t, stdhttp.MethodPost, "/approvals/nope/approve", "t1", nil)
	if w.Code != stdhttp.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
}
