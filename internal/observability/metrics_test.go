package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncGateDecision("auto_apply")
	m.ObserveAPI("GET", "/x", 200, time.Millisecond)
	m.AddReviewExpired(3)
	if got := m.GateDecisions("auto_apply"); got != 0 {
		t.Fatalf("expected 0 from nil metrics, got %v", got)
	}
}

func TestWritePrometheusRendersCountersAndHistograms(t *testing.T) {
	m := New()
	m.IncGateDecision("auto_apply")
	m.IncGateDecision("auto_apply")
	m.IncDriftTicket("field_added")
	m.ObserveProposal("similarity", "hit", 3*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`driftd_gate_decisions_total{action="auto_apply"} 2`,
		`driftd_drift_tickets_total{change_type="field_added"} 1`,
		`driftd_proposal_duration_seconds_bucket{method="similarity",le="+Inf"} 1`,
		`# TYPE driftd_proposal_duration_seconds histogram`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, out)
		}
	}
}

func TestLabelStringEscapes(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("unexpected label string %q", got)
	}
}
