package approval

import (
	"errors"
	"time"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/proposal"
)

var (
	ErrNotFound      = errors.New("pending action not found")
	ErrNotPending    = errors.New("pending action is not pending")
	ErrExpired       = errors.New("pending action expired")
	ErrNotExecutable = errors.New("pending action is not executable")
	ErrInvalidInput  = errors.New("invalid pending action input")
)

// Kind tells whether an action waits for a human decision or only a token.
type Kind string

const (
	KindApproval Kind = "approval"
	KindConfirm  Kind = "confirm"
)

// Status is the lifecycle state of a pending action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// Decision is a human verdict on a pending action.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DryRunPlan summarizes what an action would do without running it.
type DryRunPlan struct {
	Tool      proposal.ToolName  `json:"tool"`
	Risk      proposal.RiskLevel `json:"risk"`
	Reason    string             `json:"reason"`
	InputKeys []string           `json:"input_keys"`
}

// PlanFor builds the dry-run plan shown to approvers.
func PlanFor(p proposal.ToolProposal) DryRunPlan {
	return DryRunPlan{Tool: p.Tool, Risk: p.Risk, Reason: p.Reason, InputKeys: p.InputKeys()}
}

// PendingAction is a persisted ledger entry gating one proposal.
type PendingAction struct {
	ID                   string                `json:"id"`
	Kind                 Kind                  `json:"type"`
	Status               Status                `json:"status"`
	TraceID              string                `json:"trace_id"`
	IdempotencyKey       string                `json:"idempotency_key"`
	Proposal             proposal.ToolProposal `json:"proposal"`
	Event                bus.Event             `json:"event"`
	DryRunPlan           DryRunPlan            `json:"dry_run_plan"`
	RequiresApproval     bool                  `json:"requires_approval"`
	RequiresConfirmToken bool                  `json:"requires_confirm_token"`
	ConfirmToken         string                `json:"confirm_token,omitempty"`
	ConsumedAt           *time.Time            `json:"consumed_at,omitempty"`
	RequestedBy          string                `json:"requested_by"`
	Reason               string                `json:"reason"`
	DecidedBy            string                `json:"decided_by,omitempty"`
	DecidedAt            *time.Time            `json:"decided_at,omitempty"`
	DecisionReason       string                `json:"decision_reason,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	ExpiresAt            time.Time             `json:"expires_at"`
}

// CreateInput contains fields needed to create a pending action.
type CreateInput struct {
	Kind                 Kind
	Proposal             proposal.ToolProposal
	Event                bus.Event
	Reason               string
	RequestedBy          string
	DryRunPlan           DryRunPlan
	RequiresApproval     bool
	RequiresConfirmToken bool
	TTL                  time.Duration
}

// Query filters pending actions when listing.
type Query struct {
	Status Status
	Kind   Kind
	Limit  int
}
