package policy

import (
	"strings"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/proposal"
)

const (
	reasonInvalidRoute    = "invalid workspace/agent route"
	reasonDestructive     = "destructive delete/format action requires human approval + confirm token"
	reasonMissingCapacity = "subject lacks required capability"
)

// Evaluator performs pure policy decisions.
type Evaluator struct{}

// NewEvaluator builds a deterministic, side-effect free evaluator.
func NewEvaluator() Evaluator {
	return Evaluator{}
}

// Evaluate returns a deterministic decision for the event and proposal.
func (Evaluator) Evaluate(event bus.Event, p proposal.ToolProposal) Decision {
	if strings.TrimSpace(event.Workspace) == "" || strings.TrimSpace(event.Agent) == "" {
		return Decision{Action: ActionReject, Reason: reasonInvalidRoute}
	}

	if intent := InspectIntent(p); intent.Destructive() {
		return Decision{Action: ActionNeedDoubleConfirm, Reason: reasonDestructive, Evidence: intent.Evidence}
	}

	roles := event.Sender.Roles
	switch p.Risk {
	case proposal.RiskLow:
		if HasCapability(roles, CapToolLow) {
			return Decision{Action: ActionAuto, Reason: "low risk + capability granted"}
		}
	case proposal.RiskMedium:
		if HasCapability(roles, CapToolMedium) {
			return Decision{Action: ActionNeedConfirm, Reason: "medium risk requires confirm token"}
		}
	case proposal.RiskHigh:
		if HasCapability(roles, CapToolHigh) {
			return Decision{Action: ActionAuto, Reason: "high risk auto-approved for admin"}
		}
		return Decision{Action: ActionNeedApproval, Reason: "high risk action requires explicit approval"}
	}
	return Decision{Action: ActionReject, Reason: reasonMissingCapacity}
}
