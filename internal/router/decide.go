package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/audit"
)

// Execution is the outcome of running an approved action.
type Execution struct {
	Action approval.PendingAction `json:"action"`
	Result map[string]any         `json:"result"`
}

// DecideResult tells an approver what happened and what is still needed.
type DecideResult struct {
	Action       approval.PendingAction `json:"action"`
	NextStep     string                 `json:"next_step,omitempty"`
	ConfirmToken string                 `json:"confirm_token,omitempty"`
	Execution    map[string]any         `json:"execution,omitempty"`
}

// Decide records a human verdict. Approving an approval-only action runs it
// immediately; approving a double-confirm action hands back its token.
func (r *Router) Decide(ctx context.Context, id, actorID string, decision approval.Decision, reason string) (DecideResult, error) {
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		actor = defaultDecisionActor
	}

	action, err := r.approvals.Decide(id, actor, decision, reason)
	if err != nil {
		return DecideResult{}, err
	}
	r.metrics.Collectors().RecordApproval(string(action.Status))
	r.audit.LogStage(action.TraceID, audit.StageDecision, map[string]any{
		"action_id": action.ID,
		"decision":  string(decision),
		"actor":     actor,
	})
	slog.Info("pending action decided", "trace_id", action.TraceID, "action_id", action.ID, "status", string(action.Status), "actor", actor)

	if action.Status != approval.StatusApproved {
		return DecideResult{Action: action}, nil
	}
	if action.RequiresConfirmToken {
		return DecideResult{
			Action:       action,
			NextStep:     NextStepConfirmToken,
			ConfirmToken: action.ConfirmToken,
		}, nil
	}

	exec, err := r.ExecuteApproved(ctx, action.ID)
	if err != nil {
		return DecideResult{Action: action}, err
	}
	return DecideResult{Action: exec.Action, Execution: exec.Result}, nil
}

// ExecuteApproved runs an approved action that needs no confirm token and
// marks it executed.
func (r *Router) ExecuteApproved(ctx context.Context, id string) (Execution, error) {
	action, err := r.approvals.Get(id)
	if err != nil {
		return Execution{}, err
	}
	if action.Status != approval.StatusApproved {
		return Execution{}, fmt.Errorf("%w: %s is %s", approval.ErrNotExecutable, action.ID, action.Status)
	}
	if action.RequiresConfirmToken {
		return Execution{}, fmt.Errorf("%w: %s requires its confirm token", approval.ErrNotExecutable, action.ID)
	}

	result, err := r.execute(ctx, action.TraceID, action.Event, action.Proposal)
	if err != nil {
		return Execution{}, err
	}
	executed, err := r.approvals.MarkExecuted(action.ID)
	if err != nil {
		return Execution{}, fmt.Errorf("mark %s executed: %w", action.ID, err)
	}
	r.metrics.Collectors().RecordApproval(string(approval.StatusExecuted))
	r.audit.LogStage(action.TraceID, audit.StageOutbound, map[string]any{
		"action_id": action.ID,
		"status":    string(executed.Status),
	})
	return Execution{Action: executed, Result: result}, nil
}
