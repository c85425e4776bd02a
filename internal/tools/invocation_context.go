package tools

import (
	"context"
	"strings"
)

type invocationContextKey struct{}

// InvocationContext carries caller metadata for tool execution.
type InvocationContext struct {
	TraceID        string
	IdempotencyKey string
	Channel        string
	SenderID       string
	AgentID        string
}

// WithInvocationContext stores invocation metadata in context for tools.
func WithInvocationContext(ctx context.Context, meta InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, meta)
}

// InvocationFromContext reads invocation metadata from context.
func InvocationFromContext(ctx context.Context) InvocationContext {
	v := ctx.Value(invocationContextKey{})
	meta, ok := v.(InvocationContext)
	if !ok {
		return InvocationContext{}
	}
	meta.TraceID = strings.TrimSpace(meta.TraceID)
	meta.IdempotencyKey = strings.TrimSpace(meta.IdempotencyKey)
	meta.Channel = strings.TrimSpace(meta.Channel)
	meta.SenderID = strings.TrimSpace(meta.SenderID)
	meta.AgentID = strings.TrimSpace(meta.AgentID)
	return meta
}
