// Package gate turns a proposal confidence into an action. It is the only
// place thresholds are compared.
package gate

import (
	"fmt"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

type Action string

const (
	ActionAutoApply      Action = "auto_apply"
	ActionQueueForReview Action = "queue_for_review"
	ActionReject         Action = "reject"
)

type Thresholds struct {
	High float64
	Low  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Low: 0.60}
}

func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 || t.Low > t.High {
		return fmt.Errorf("invalid gate thresholds low=%v high=%v", t.Low, t.High)
	}
	return nil
}

// Decide maps confidence onto an action; both thresholds are inclusive lower bounds.
func (t Thresholds) Decide(confidence float64) Action {
	switch {
	case confidence >= t.High:
		return ActionAutoApply
	case confidence >= t.Low:
		return ActionQueueForReview
	default:
		return ActionReject
	}
}

type Decision struct {
	Action Action
	Reason string
}

// Route applies Decide to a proposal. Timed-out and ambiguous proposals go to
// review whatever their score, and an incomplete one is never auto-applied.
func (t Thresholds) Route(p *domain.MappingProposal) Decision {
	if p == nil {
		return Decision{Action: ActionReject, Reason: "no proposal"}
	}
	if p.TimedOut {
		return Decision{Action: ActionQueueForReview, Reason: "proposal timed out"}
	}
	if p.Ambiguous {
		return Decision{Action: ActionQueueForReview, Reason: "ambiguous drift"}
	}
	action := t.Decide(p.Confidence)
	if action == ActionAutoApply && !p.Complete() {
		return Decision{Action: ActionQueueForReview, Reason: "proposal has no canonical target"}
	}
	switch action {
	case ActionAutoApply:
		return Decision{Action: action, Reason: fmt.Sprintf("confidence %.4f >= %.2f", p.Confidence, t.High)}
	case ActionQueueForReview:
		return Decision{Action: action, Reason: fmt.Sprintf("confidence %.4f in [%.2f, %.2f)", p.Confidence, t.Low, t.High)}
	default:
		return Decision{Action: action, Reason: fmt.Sprintf("confidence %.4f < %.2f", p.Confidence, t.Low)}
	}
}
