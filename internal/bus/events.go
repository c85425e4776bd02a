package bus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type traceIDContextKey struct{}

// Sender identifies who sent an inbound message and which roles they hold.
type Sender struct {
	ID      string   `json:"id"`
	Display string   `json:"display"`
	Roles   []string `json:"roles"`
}

// Event is a normalized inbound message received from a channel.
type Event struct {
	TraceID    string    `json:"trace_id"`
	Channel    string    `json:"channel"`
	Sender     Sender    `json:"sender"`
	ThreadID   string    `json:"thread_id"`
	Workspace  string    `json:"workspace"`
	Agent      string    `json:"agent"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventInput holds the caller-provided part of an Event.
type EventInput struct {
	Channel   string
	Sender    Sender
	ThreadID  string
	Workspace string
	Agent     string
	Text      string
}

// NewEvent stamps a fresh trace id and receive time onto the input.
func NewEvent(in EventInput) Event {
	return Event{
		TraceID:    NewTraceID(),
		Channel:    strings.TrimSpace(in.Channel),
		Sender:     in.Sender,
		ThreadID:   strings.TrimSpace(in.ThreadID),
		Workspace:  strings.TrimSpace(in.Workspace),
		Agent:      strings.TrimSpace(in.Agent),
		Text:       in.Text,
		ReceivedAt: time.Now().UTC(),
	}
}

// Routable reports whether the event names both a workspace and an agent.
func (e Event) Routable() bool {
	return strings.TrimSpace(e.Workspace) != "" && strings.TrimSpace(e.Agent) != ""
}

// ConversationKey returns the conversation history key for the event.
func (e Event) ConversationKey() string {
	if thread := strings.TrimSpace(e.ThreadID); thread != "" {
		return thread
	}
	return e.Channel + ":" + e.Sender.ID
}

// NewTraceID creates a trace id for an inbound event.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID adds a trace id to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

// TraceIDFromContext reads trace id from context.
func TraceIDFromContext(ctx context.Context) string {
	v := ctx.Value(traceIDContextKey{})
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
