package observability

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/envutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	fingerprints      *CounterVec
	scanFailures      *CounterVec
	driftTickets      *CounterVec
	proposals         *CounterVec
	proposalLatency   *HistogramVec
	gateDecisions     *CounterVec
	activations       *CounterVec
	registryConflicts *CounterVec
	reviewExpired     *CounterVec
	recordsMapped     *CounterVec
	coercionFailures  *CounterVec
	validationFailed  *CounterVec
	generativeCalls   *CounterVec
	generativeLatency *HistogramVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process metrics or nil when metrics are disabled.
// All Metrics methods are nil-safe.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New builds a standalone registry; tests use it directly instead of Init.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("driftd_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"driftd_api_request_duration_seconds",
			"API request latency in seconds by method/route.",
			[]string{"method", "route"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight: NewGauge("driftd_api_inflight_requests", "In-flight API requests."),

		fingerprints:      NewCounterVec("driftd_fingerprints_total", "Fingerprints captured by outcome.", []string{"outcome"}),
		scanFailures:      NewCounterVec("driftd_scan_failures_total", "Scan attempts that could not fingerprint the source.", []string{"source"}),
		driftTickets:      NewCounterVec("driftd_drift_tickets_total", "Drift tickets created by change type.", []string{"change_type"}),
		proposals:         NewCounterVec("driftd_proposals_total", "Repair proposals by method and outcome.", []string{"method", "outcome"}),
		proposalLatency:   NewHistogramVec("driftd_proposal_duration_seconds", "Repair proposal latency by method.", []string{"method"}, nil),
		gateDecisions:     NewCounterVec("driftd_gate_decisions_total", "Confidence gate decisions by action.", []string{"action"}),
		activations:       NewCounterVec("driftd_mapping_activations_total", "Mapping activations by origin.", []string{"origin"}),
		registryConflicts: NewCounterVec("driftd_registry_conflicts_total", "Concurrent activation conflicts.", []string{"outcome"}),
		reviewExpired:     NewCounterVec("driftd_review_expired_total", "Review items expired by the sweep.", nil),
		recordsMapped:     NewCounterVec("driftd_records_total", "Records processed by entity and outcome.", []string{"entity", "outcome"}),
		coercionFailures:  NewCounterVec("driftd_coercion_failures_total", "Field coercions that degraded to null.", []string{"transform"}),
		validationFailed:  NewCounterVec("driftd_validation_failures_total", "Contract violations by entity and constraint.", []string{"entity", "constraint"}),
		generativeCalls:   NewCounterVec("driftd_generative_requests_total", "Generative proposal calls by provider and status.", []string{"provider", "status"}),
		generativeLatency: NewHistogramVec("driftd_generative_request_duration_seconds", "Generative proposal call latency.", []string{"provider"}, []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	all := []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.fingerprints, m.scanFailures, m.driftTickets,
		m.proposals, m.proposalLatency, m.gateDecisions,
		m.activations, m.registryConflicts, m.reviewExpired,
		m.recordsMapped, m.coercionFailures, m.validationFailed,
		m.generativeCalls, m.generativeLatency,
	}
	for _, pw := range all {
		if err := pw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) IncFingerprint(outcome string) {
	if m == nil {
		return
	}
	m.fingerprints.Inc(outcome)
}

func (m *Metrics) IncScanFailure(source string) {
	if m == nil {
		return
	}
	m.scanFailures.Inc(source)
}

func (m *Metrics) IncDriftTicket(changeType string) {
	if m == nil {
		return
	}
	m.driftTickets.Inc(changeType)
}

func (m *Metrics) ObserveProposal(method, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.proposals.Inc(method, outcome)
	m.proposalLatency.Observe(dur.Seconds(), method)
}

func (m *Metrics) IncGateDecision(action string) {
	if m == nil {
		return
	}
	m.gateDecisions.Inc(action)
}

func (m *Metrics) GateDecisions(action string) float64 {
	if m == nil {
		return 0
	}
	return m.gateDecisions.Value(action)
}

func (m *Metrics) IncActivation(origin string) {
	if m == nil {
		return
	}
	m.activations.Inc(origin)
}

func (m *Metrics) IncRegistryConflict(outcome string) {
	if m == nil {
		return
	}
	m.registryConflicts.Inc(outcome)
}

func (m *Metrics) AddReviewExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reviewExpired.Add(float64(n))
}

func (m *Metrics) IncRecord(entity, outcome string) {
	if m == nil {
		return
	}
	m.recordsMapped.Inc(entity, outcome)
}

func (m *Metrics) IncCoercionFailure(transform string) {
	if m == nil {
		return
	}
	m.coercionFailures.Inc(transform)
}

func (m *Metrics) IncValidationFailure(entity, constraint string) {
	if m == nil {
		return
	}
	m.validationFailed.Inc(entity, constraint)
}

func (m *Metrics) ObserveGenerative(provider, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.generativeCalls.Inc(provider, status)
	m.generativeLatency.Observe(dur.Seconds(), provider)
}
