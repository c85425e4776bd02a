package policy

// Action is the policy decision for a tool proposal.
type Action string

const (
	ActionAuto              Action = "auto"
	ActionNeedConfirm       Action = "need-confirm"
	ActionNeedApproval      Action = "need-approval"
	ActionNeedDoubleConfirm Action = "need-double-confirm"
	ActionReject            Action = "reject"
)

// Decision is the deterministic policy result.
type Decision struct {
	Action   Action   `json:"action"`
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

// Gated reports whether the decision parks the proposal in the approval ledger.
func (d Decision) Gated() bool {
	switch d.Action {
	case ActionNeedConfirm, ActionNeedApproval, ActionNeedDoubleConfirm:
		return true
	default:
		return false
	}
}
