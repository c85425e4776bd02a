package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/proposal"
	"github.com/MEKXH/gatekeep/internal/session"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

const (
	proposeInstruction = "You are a proposal-only agent. Never execute tools directly. " +
		"Return only JSON matching {trace_id,type:'tool_proposal',tool,risk,inputs,reason,idempotency_key}. " +
		"No markdown and no prose."
	summarizeInstruction = "You are a concise assistant. Summarize tool results for the end user " +
		"in the language of their message."
)

// Brain turns events into tool proposals and execution results into replies.
type Brain interface {
	Propose(ctx context.Context, event bus.Event, history []session.Message) (proposal.ToolProposal, error)
	Summarize(ctx context.Context, event bus.Event, p proposal.ToolProposal, result map[string]any) (string, error)
}

// ModelBrain is a Brain backed by an eino chat model.
type ModelBrain struct {
	model model.BaseChatModel
}

// NewModelBrain wraps a chat model.
func NewModelBrain(m model.BaseChatModel) *ModelBrain {
	return &ModelBrain{model: m}
}

type proposePrompt struct {
	Mode         string               `json:"mode"`
	Event        bus.Event            `json:"event"`
	AllowedTools []proposal.ToolName  `json:"allowed_tools"`
	RiskLevels   []proposal.RiskLevel `json:"risk_levels"`
}

type summarizePrompt struct {
	Mode       string                `json:"mode"`
	Event      bus.Event             `json:"event"`
	Proposal   proposal.ToolProposal `json:"proposal"`
	ToolResult map[string]any        `json:"tool_result"`
}

// Propose asks the model for exactly one tool proposal. The trace id always
// follows the event. The result is not validated here.
func (b *ModelBrain) Propose(ctx context.Context, event bus.Event, history []session.Message) (proposal.ToolProposal, error) {
	prompt, err := json.Marshal(proposePrompt{
		Mode:         proposal.TypeToolProposal,
		Event:        event,
		AllowedTools: proposal.Tools,
		RiskLevels:   []proposal.RiskLevel{proposal.RiskLow, proposal.RiskMedium, proposal.RiskHigh},
	})
	if err != nil {
		return proposal.ToolProposal{}, fmt.Errorf("encode propose prompt: %w", err)
	}

	raw, err := b.generate(ctx, buildMessages(proposeInstruction, history, string(prompt)))
	if err != nil {
		return proposal.ToolProposal{}, err
	}

	var p proposal.ToolProposal
	if err := json.Unmarshal([]byte(extractJSON(raw)), &p); err != nil {
		return proposal.ToolProposal{}, &proposal.ValidationError{Field: "body", Message: "is not JSON: " + err.Error()}
	}
	if p.TraceID != event.TraceID {
		p.TraceID = event.TraceID
	}
	return p, nil
}

// Summarize asks the model to phrase an execution result for the user.
func (b *ModelBrain) Summarize(ctx context.Context, event bus.Event, p proposal.ToolProposal, result map[string]any) (string, error) {
	prompt, err := json.Marshal(summarizePrompt{
		Mode:       "reply",
		Event:      event,
		Proposal:   p,
		ToolResult: result,
	})
	if err != nil {
		return "", fmt.Errorf("encode summarize prompt: %w", err)
	}
	return b.generate(ctx, buildMessages(summarizeInstruction, nil, string(prompt)))
}

func (b *ModelBrain) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	if b == nil || b.model == nil {
		return "", fmt.Errorf("chat model is not configured")
	}
	resp, err := b.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("model generate: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}

	think, content, found := splitThink(resp.Content)
	if found {
		slog.Debug("model reasoning dropped", "trace_id", bus.TraceIDFromContext(ctx), "think_len", len(think))
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func buildMessages(system string, history []session.Message, current string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: system})
	for _, msg := range history {
		role := schema.User
		if msg.Role == session.RoleAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: current})
	return messages
}

// Offline is a Brain used when no chat model could be built. Proposing fails
// with Err; summarizing leaves the caller to fall back to the raw result.
type Offline struct {
	Err error
}

func (o Offline) Propose(context.Context, bus.Event, []session.Message) (proposal.ToolProposal, error) {
	return proposal.ToolProposal{}, fmt.Errorf("brain unavailable: %w", o.Err)
}

func (o Offline) Summarize(context.Context, bus.Event, proposal.ToolProposal, map[string]any) (string, error) {
	return "", fmt.Errorf("brain unavailable: %w", o.Err)
}
