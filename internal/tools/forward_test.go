package tools

import (
	"context"
	"testing"

	"github.com/MEKXH/gatekeep/internal/bus"
)

func TestForwardToAgent_DeliversWithTrace(t *testing.T) {
	mb := bus.NewMailbox(10)
	impl := &forwardToolImpl{deliverer: mb}

	ctx := WithInvocationContext(context.Background(), InvocationContext{TraceID: "trace-7", AgentID: "alpha"})
	out, err := impl.execute(ctx, &ForwardInput{ToAgentID: "beta", Content: "ping"})
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if !out.Delivered || out.MessageID == "" || out.ToAgentID != "beta" {
		t.Fatalf("unexpected output: %+v", out)
	}

	msgs := mb.List("beta", true)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].FromAgentID != "alpha" || msgs[0].Metadata["trace_id"] != "trace-7" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestForwardToAgent_RequiresRecipient(t *testing.T) {
	impl := &forwardToolImpl{deliverer: bus.NewMailbox(0)}
	if _, err := impl.execute(context.Background(), &ForwardInput{Content: "x"}); err == nil {
		t.Fatal("expected missing recipient error")
	}
}
