package driftscan

import "time"

const (
	ScanWorkflowName  = "drift_scan"
	SweepWorkflowName = "review_sweep"

	ActivityListKeys = "drift_list_keys"
	ActivityScanKey  = "drift_scan_key"
	ActivitySweep    = "drift_review_sweep"

	ScanWorkflowID  = "drift-scan"
	SweepWorkflowID = "review-sweep"
)

// Key mirrors fingerprint.Key with JSON tags for workflow payloads.
type Key struct {
	TenantID string `json:"tenant_id"`
	SourceID string `json:"source_id"`
	Entity   string `json:"entity"`
}

type LoopInput struct {
	Interval time.Duration `json:"interval"`
	// Cycles counts completed iterations across continue-as-new runs.
	Cycles int `json:"cycles,omitempty"`
}

type ScanSummary struct {
	Key       Key  `json:"key"`
	Baseline  bool `json:"baseline"`
	Unchanged bool `json:"unchanged"`
	Tickets   int  `json:"tickets"`
}
