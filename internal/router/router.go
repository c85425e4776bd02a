package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/audit"
	"github.com/MEKXH/gatekeep/internal/brain"
	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/policy"
	"github.com/MEKXH/gatekeep/internal/proposal"
	"github.com/MEKXH/gatekeep/internal/session"
	"github.com/MEKXH/gatekeep/internal/tools"
)

var (
	ErrDuplicateProposal = errors.New("duplicate proposal blocked by idempotency_key")
	ErrInvalidProposal   = errors.New("brain must return a valid tool_proposal")
)

const (
	replyConfirmRejected = "rejected: confirm token invalid, expired or already used"

	// NextStepConfirmToken tells an approver the action still needs its token.
	NextStepConfirmToken = "confirm_token_required"

	defaultDecisionActor = "approval-ui"
)

// Executor runs a named tool. *tools.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, inputs map[string]any) (map[string]any, error)
}

// Deps are the collaborators a Router orchestrates. Audit, Learnings,
// Sessions and Metrics are optional.
type Deps struct {
	Brain       brain.Brain
	Policy      policy.Evaluator
	Approvals   *approval.Service
	Tools       Executor
	Proposals   *proposal.Cache
	Audit       *audit.Writer
	Learnings   audit.LearningRecorder
	Sessions    *session.Manager
	Metrics     *metrics.RuntimeMetrics
	ApprovalTTL time.Duration
}

// Router drives one event through proposal, policy and execution.
type Router struct {
	brain       brain.Brain
	policy      policy.Evaluator
	approvals   *approval.Service
	tools       Executor
	proposals   *proposal.Cache
	audit       *audit.Writer
	learnings   audit.LearningRecorder
	sessions    *session.Manager
	metrics     *metrics.RuntimeMetrics
	approvalTTL time.Duration
}

// New creates a router.
func New(deps Deps) (*Router, error) {
	if deps.Brain == nil {
		return nil, fmt.Errorf("router requires a brain")
	}
	if deps.Approvals == nil {
		return nil, fmt.Errorf("router requires an approval service")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("router requires a tool executor")
	}
	cache := deps.Proposals
	if cache == nil {
		cache = proposal.NewCache()
	}
	return &Router{
		brain:       deps.Brain,
		policy:      deps.Policy,
		approvals:   deps.Approvals,
		tools:       deps.Tools,
		proposals:   cache,
		audit:       deps.Audit,
		learnings:   deps.Learnings,
		sessions:    deps.Sessions,
		metrics:     deps.Metrics,
		approvalTTL: deps.ApprovalTTL,
	}, nil
}

// RouteOptions alter how an event is handled.
type RouteOptions struct {
	// ConfirmToken switches the event onto the confirm-token path.
	ConfirmToken string
}

// Reply is what the caller sees. Gated replies name the artifacts to send next.
type Reply struct {
	TraceID      string        `json:"trace_id"`
	Text         string        `json:"reply"`
	Decision     policy.Action `json:"decision,omitempty"`
	ApprovalID   string        `json:"approval_id,omitempty"`
	ConfirmToken string        `json:"confirm_token,omitempty"`
}

// Route handles one inbound event.
func (r *Router) Route(ctx context.Context, event bus.Event, opts RouteOptions) (Reply, error) {
	ctx = bus.WithTraceID(ctx, event.TraceID)
	r.audit.LogStage(event.TraceID, audit.StageEvent, map[string]any{
		"channel":   event.Channel,
		"sender":    event.Sender.ID,
		"workspace": event.Workspace,
		"agent":     event.Agent,
	})

	var (
		reply Reply
		err   error
	)
	if token := strings.TrimSpace(opts.ConfirmToken); token != "" {
		reply, err = r.routeConfirm(ctx, event, token)
	} else {
		reply, err = r.routeProposal(ctx, event)
	}
	if err != nil {
		slog.Warn("route event failed", "trace_id", event.TraceID, "error", err)
		return Reply{TraceID: event.TraceID}, err
	}

	r.audit.LogStage(event.TraceID, audit.StageOutbound, map[string]any{"reply": reply.Text})
	return reply, nil
}

func (r *Router) routeConfirm(ctx context.Context, event bus.Event, token string) (Reply, error) {
	action, err := r.approvals.ConsumeConfirmToken(token, event.Sender.ID)
	if err != nil {
		r.audit.LogStage(event.TraceID, audit.StageDecision, map[string]any{
			"confirm_token": "rejected",
			"error":         err.Error(),
		})
		return Reply{TraceID: event.TraceID, Text: replyConfirmRejected}, nil
	}
	r.audit.LogStage(event.TraceID, audit.StageDecision, map[string]any{
		"confirm_token":  "accepted",
		"action_id":      action.ID,
		"origin_trace":   action.TraceID,
		"requires_human": action.RequiresApproval,
	})

	result, err := r.execute(ctx, event.TraceID, action.Event, action.Proposal)
	if err != nil {
		return Reply{}, err
	}
	if _, err := r.approvals.MarkExecuted(action.ID); err != nil {
		return Reply{}, fmt.Errorf("mark %s executed: %w", action.ID, err)
	}
	r.metrics.Collectors().RecordApproval(string(approval.StatusExecuted))

	text := r.summarize(ctx, event, action.Proposal, result)
	return Reply{TraceID: event.TraceID, Text: text, ApprovalID: action.ID}, nil
}

func (r *Router) routeProposal(ctx context.Context, event bus.Event) (Reply, error) {
	key := event.ConversationKey()
	history := r.history(key)
	r.addTurn(key, session.RoleUser, event.Text)

	started := time.Now()
	p, err := r.brain.Propose(ctx, event, history)
	r.audit.LogStage(event.TraceID, audit.StageLLMCall, map[string]any{
		"mode":        "propose",
		"duration_ms": time.Since(started).Milliseconds(),
		"ok":          err == nil,
	})
	if err != nil {
		var verr *proposal.ValidationError
		if errors.As(err, &verr) {
			return Reply{}, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
		}
		return Reply{}, fmt.Errorf("brain propose: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	if !r.proposals.Add(p) {
		return Reply{}, fmt.Errorf("%w: %s", ErrDuplicateProposal, p.IdempotencyKey)
	}
	r.audit.LogStage(event.TraceID, audit.StageProposal, map[string]any{
		"tool":            string(p.Tool),
		"risk":            string(p.Risk),
		"idempotency_key": p.IdempotencyKey,
	})

	decision := r.policy.Evaluate(event, p)
	if _, err := r.metrics.RecordDecision(string(decision.Action)); err != nil {
		slog.Warn("record decision metric failed", "trace_id", event.TraceID, "error", err)
	}
	r.audit.LogStage(event.TraceID, audit.StageDecision, map[string]any{
		"action":   string(decision.Action),
		"reason":   decision.Reason,
		"evidence": decision.Evidence,
	})

	switch decision.Action {
	case policy.ActionReject:
		r.recordLearning(ctx, event, audit.LearningDecision, string(p.Tool)+" rejected", decision.Reason, map[string]any{
			"risk":  string(p.Risk),
			"roles": event.Sender.Roles,
		})
		return Reply{TraceID: event.TraceID, Text: "rejected: " + decision.Reason, Decision: decision.Action}, nil
	case policy.ActionNeedApproval, policy.ActionNeedDoubleConfirm, policy.ActionNeedConfirm:
		return r.park(event, p, decision)
	case policy.ActionAuto:
		return r.runAuto(ctx, event, p)
	default:
		return Reply{}, fmt.Errorf("unknown policy action %q", decision.Action)
	}
}

func (r *Router) park(event bus.Event, p proposal.ToolProposal, decision policy.Decision) (Reply, error) {
	input := approval.CreateInput{
		Kind:        approval.KindApproval,
		Proposal:    p,
		Event:       event,
		Reason:      decision.Reason,
		RequestedBy: event.Sender.ID,
		DryRunPlan:  approval.PlanFor(p),
		TTL:         r.approvalTTL,
	}
	switch decision.Action {
	case policy.ActionNeedApproval:
		input.RequiresApproval = true
	case policy.ActionNeedDoubleConfirm:
		input.RequiresApproval = true
		input.RequiresConfirmToken = true
	case policy.ActionNeedConfirm:
		input.Kind = approval.KindConfirm
		input.RequiresConfirmToken = true
	}

	action, err := r.approvals.Create(input)
	if err != nil {
		return Reply{}, fmt.Errorf("create pending action: %w", err)
	}
	r.metrics.Collectors().RecordApproval(string(approval.StatusPending))
	slog.Info("proposal parked",
		"trace_id", event.TraceID,
		"action_id", action.ID,
		"tool", string(p.Tool),
		"decision", string(decision.Action),
	)

	reply := Reply{TraceID: event.TraceID, Decision: decision.Action}
	switch decision.Action {
	case policy.ActionNeedApproval:
		reply.ApprovalID = action.ID
		reply.Text = fmt.Sprintf("proposal queued for human approval (approval_id: %s)", action.ID)
	case policy.ActionNeedDoubleConfirm:
		reply.ApprovalID = action.ID
		reply.ConfirmToken = action.ConfirmToken
		reply.Text = fmt.Sprintf(
			"%s: first approve approval_id %s, then send confirm_token %s; the token is refused until approval",
			decision.Reason, action.ID, action.ConfirmToken)
	case policy.ActionNeedConfirm:
		reply.ConfirmToken = action.ConfirmToken
		reply.Text = fmt.Sprintf("confirmation required: send confirm_token %s to execute %s", action.ConfirmToken, p.Tool)
	}
	return reply, nil
}

func (r *Router) runAuto(ctx context.Context, event bus.Event, p proposal.ToolProposal) (Reply, error) {
	result, err := r.execute(ctx, event.TraceID, event, p)
	if err != nil {
		return Reply{}, err
	}
	text := r.summarize(ctx, event, p, result)
	r.addTurn(event.ConversationKey(), session.RoleAssistant, text)
	return Reply{TraceID: event.TraceID, Text: text, Decision: policy.ActionAuto}, nil
}

// execute runs a proposal's tool, recording audit, metrics and a learning.
// traceID is the trace being served; origin is the event that produced p.
func (r *Router) execute(ctx context.Context, traceID string, origin bus.Event, p proposal.ToolProposal) (map[string]any, error) {
	ctx = tools.WithInvocationContext(ctx, tools.InvocationContext{
		TraceID:        traceID,
		IdempotencyKey: p.IdempotencyKey,
		Channel:        origin.Channel,
		SenderID:       origin.Sender.ID,
		AgentID:        origin.Agent,
	})

	started := time.Now()
	result, err := r.tools.Execute(ctx, string(p.Tool), p.Inputs)
	elapsed := time.Since(started)
	if _, merr := r.metrics.RecordToolExecution(string(p.Tool), elapsed, err); merr != nil {
		slog.Warn("record tool metric failed", "trace_id", traceID, "tool", string(p.Tool), "error", merr)
	}

	if err != nil {
		r.audit.LogStage(traceID, audit.StageExecution, map[string]any{
			"tool":  string(p.Tool),
			"ok":    false,
			"error": err.Error(),
		})
		r.recordLearning(ctx, origin, audit.LearningPitfall, string(p.Tool)+" failed", err.Error(), map[string]any{
			"trace_id":    traceID,
			"input_keys":  p.InputKeys(),
			"duration_ms": elapsed.Milliseconds(),
		})
		return nil, fmt.Errorf("execute %s: %w", p.Tool, err)
	}

	r.audit.LogStage(traceID, audit.StageExecution, map[string]any{
		"tool":   string(p.Tool),
		"ok":     true,
		"result": result,
	})
	r.recordLearning(ctx, origin, audit.LearningMethodology, string(p.Tool)+" succeeded", p.Reason, map[string]any{
		"trace_id":    traceID,
		"input_keys":  p.InputKeys(),
		"duration_ms": elapsed.Milliseconds(),
	})
	return result, nil
}

// summarize never fails the operation: the tool already ran.
func (r *Router) summarize(ctx context.Context, event bus.Event, p proposal.ToolProposal, result map[string]any) string {
	text, err := r.brain.Summarize(ctx, event, p, result)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	slog.Warn("summarize failed, replying with raw result", "trace_id", event.TraceID, "error", err)
	encoded, _ := json.Marshal(result)
	return fmt.Sprintf("%s executed: %s", p.Tool, encoded)
}

func (r *Router) recordLearning(ctx context.Context, event bus.Event, kind audit.LearningKind, title, summary string, details map[string]any) {
	if r.learnings == nil {
		return
	}
	err := r.learnings.RecordLearning(ctx, audit.Learning{
		Scope:   event.Workspace + "/" + event.Agent,
		Kind:    kind,
		Title:   title,
		Summary: summary,
		Details: details,
	})
	if err != nil {
		slog.Warn("record learning failed", "trace_id", event.TraceID, "kind", string(kind), "error", err)
	}
}

func (r *Router) history(key string) []session.Message {
	if r.sessions == nil {
		return nil
	}
	return r.sessions.History(key)
}

func (r *Router) addTurn(key string, role session.Role, content string) {
	if r.sessions == nil || strings.TrimSpace(content) == "" {
		return
	}
	if err := r.sessions.AddTurn(key, role, content); err != nil {
		slog.Warn("append conversation turn failed", "thread", key, "error", err)
	}
}
