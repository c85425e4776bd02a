package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"github.com/MEKXH/gatekeep/internal/bus"
)

// Deliverer puts a message into another agent's queue.
type Deliverer interface {
	Deliver(ctx context.Context, msg bus.AgentMessage) (bus.AgentMessage, error)
}

type ForwardInput struct {
	ToAgentID string         `json:"to_agent_id" jsonschema:"required,description=Recipient agent id"`
	Content   string         `json:"content" jsonschema:"required,description=Message content"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"description=Extra metadata"`
}

type ForwardOutput struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id"`
	ToAgentID string `json:"to_agent_id"`
}

type forwardToolImpl struct {
	deliverer Deliverer
}

func (f *forwardToolImpl) execute(ctx context.Context, input *ForwardInput) (*ForwardOutput, error) {
	if f.deliverer == nil {
		return nil, fmt.Errorf("agent messaging is not configured")
	}
	to := strings.TrimSpace(input.ToAgentID)
	if to == "" {
		return nil, fmt.Errorf("to_agent_id is required")
	}

	meta := InvocationFromContext(ctx)
	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if meta.TraceID != "" {
		metadata["trace_id"] = meta.TraceID
	}

	msg, err := f.deliverer.Deliver(ctx, bus.AgentMessage{
		FromAgentID: meta.AgentID,
		ToAgentID:   to,
		Content:     input.Content,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	return &ForwardOutput{Delivered: true, MessageID: msg.ID, ToAgentID: msg.ToAgentID}, nil
}

// NewForwardToAgentTool creates the forward_to_agent tool.
func NewForwardToAgentTool(deliverer Deliverer) (tool.InvokableTool, error) {
	impl := &forwardToolImpl{deliverer: deliverer}
	return utils.InferTool("forward_to_agent", "Deliver a message to another agent's queue", impl.execute)
}
