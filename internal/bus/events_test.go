package bus

import (
	"context"
	"fmt"
	"testing"
)

func TestNewEventStampsTraceAndTime(t *testing.T) {
	ev := NewEvent(EventInput{
		Channel:   "web_ui",
		Sender:    Sender{ID: "u1", Roles: []string{"operator"}},
		ThreadID:  " thread-1 ",
		Workspace: "ws",
		Agent:     "agent",
		Text:      "hello",
	})
	if ev.TraceID == "" {
		t.Fatal("expected non-empty trace id")
	}
	if ev.ReceivedAt.IsZero() {
		t.Fatal("expected receive time")
	}
	if ev.ThreadID != "thread-1" {
		t.Fatalf("expected trimmed thread id, got %q", ev.ThreadID)
	}
	if !ev.Routable() {
		t.Fatal("expected event to be routable")
	}
}

func TestEventRoutableRequiresWorkspaceAndAgent(t *testing.T) {
	if (Event{Workspace: "ws"}).Routable() {
		t.Fatal("expected missing agent to be unroutable")
	}
	if (Event{Agent: "a"}).Routable() {
		t.Fatal("expected missing workspace to be unroutable")
	}
}

func TestEventConversationKeyFallsBackToSender(t *testing.T) {
	ev := Event{Channel: "telegram", Sender: Sender{ID: "42"}}
	if got := ev.ConversationKey(); got != "telegram:42" {
		t.Fatalf("expected telegram:42, got %q", got)
	}
	ev.ThreadID = "t-9"
	if got := ev.ConversationKey(); got != "t-9" {
		t.Fatalf("expected thread id key, got %q", got)
	}
}

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()
	if got := TraceIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}

	ctx = WithTraceID(ctx, "trace-123")
	if got := TraceIDFromContext(ctx); got != "trace-123" {
		t.Fatalf("expected trace-123, got %q", got)
	}
}

func TestMailboxDeliverAndList(t *testing.T) {
	mb := NewMailbox(10)
	msg, err := mb.Deliver(context.Background(), AgentMessage{
		FromAgentID: "alpha",
		ToAgentID:   "beta",
		Content:     "ping",
	})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected message id")
	}
	if got := mb.PendingCount("beta"); got != 1 {
		t.Fatalf("expected 1 pending message, got %d", got)
	}
	if !mb.MarkRead("beta", msg.ID) {
		t.Fatal("expected MarkRead to find message")
	}
	if got := len(mb.List("beta", true)); got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
	if got := len(mb.List("beta", false)); got != 1 {
		t.Fatalf("expected 1 message overall, got %d", got)
	}
}

func TestMailboxEvictsOldest(t *testing.T) {
	mb := NewMailbox(2)
	for i := 0; i < 3; i++ {
		if _, err := mb.Deliver(context.Background(), AgentMessage{ToAgentID: "beta", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Deliver error: %v", err)
		}
	}
	msgs := mb.List("beta", false)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "m1" {
		t.Fatalf("expected oldest message evicted, first is %q", msgs[0].Content)
	}
}

func TestMailboxRejectsMissingRecipient(t *testing.T) {
	mb := NewMailbox(0)
	if _, err := mb.Deliver(context.Background(), AgentMessage{Content: "x"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}
