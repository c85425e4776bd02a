package proposal

import (
	"errors"
	"testing"
)

func validProposal() ToolProposal {
	return ToolProposal{
		TraceID:        "trace-1",
		Type:           TypeToolProposal,
		Tool:           ToolHTTPRequest,
		Risk:           RiskLow,
		Inputs:         map[string]any{"url": "https://example.com", "method": "GET"},
		Reason:         "fetch status page",
		IdempotencyKey: "key-1",
	}
}

func TestValidate_AcceptsWellFormedProposal(t *testing.T) {
	if err := validProposal().Validate(); err != nil {
		t.Fatalf("expected valid proposal, got %v", err)
	}
}

func TestValidate_RejectsMalformedProposals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ToolProposal)
		field  string
	}{
		{"wrong type", func(p *ToolProposal) { p.Type = "chat" }, "type"},
		{"missing trace", func(p *ToolProposal) { p.TraceID = " " }, "trace_id"},
		{"missing key", func(p *ToolProposal) { p.IdempotencyKey = "" }, "idempotency_key"},
		{"unknown tool", func(p *ToolProposal) { p.Tool = "rm_rf" }, "tool"},
		{"unknown risk", func(p *ToolProposal) { p.Risk = "extreme" }, "risk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProposal()
			tt.mutate(&p)
			err := p.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestInputKeysSorted(t *testing.T) {
	keys := validProposal().InputKeys()
	if len(keys) != 2 || keys[0] != "method" || keys[1] != "url" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestCache_RejectsRepeatedKey(t *testing.T) {
	c := NewCache()
	p := validProposal()
	if !c.Add(p) {
		t.Fatal("expected first add to succeed")
	}
	p.Reason = "different reason"
	if c.Add(p) {
		t.Fatal("expected second add with same key to fail")
	}
	got, ok := c.Get("key-1")
	if !ok || got.Reason != "fetch status page" {
		t.Fatalf("expected original proposal kept, got %+v", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 cached proposal, got %d", c.Len())
	}
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c := NewCacheWithSize(2)
	for _, key := range []string{"a", "b", "c"} {
		p := validProposal()
		p.IdempotencyKey = key
		if !c.Add(p) {
			t.Fatalf("expected add of %s to succeed", key)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("expected cache bounded at 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest key evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected newest key kept")
	}

	p := validProposal()
	p.IdempotencyKey = "b"
	if c.Add(p) {
		t.Fatal("expected retained key to still reject duplicates")
	}
}
