package tools

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type mockTool struct {
	name string
	out  string
	args string
}

func (m *mockTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: m.name, Desc: "A mock tool for testing"}, nil
}

func (m *mockTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	m.args = args
	return m.out, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&mockTool{name: "mock_tool"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, ok := reg.Get("mock_tool"); !ok {
		t.Fatal("expected to find mock_tool")
	}
	if err := reg.Register(&mockTool{name: "mock_tool"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(&mockTool{}); err == nil {
		t.Fatal("expected nameless tool to fail")
	}
}

func TestRegistry_ExecuteDecodesObjectResult(t *testing.T) {
	reg := NewRegistry()
	mock := &mockTool{name: "echo", out: `{"status":200}`}
	if err := reg.Register(mock); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	out, err := reg.Execute(context.Background(), "echo", map[string]any{"url": "x"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out["status"] != float64(200) {
		t.Fatalf("unexpected output: %v", out)
	}
	if mock.args != `{"url":"x"}` {
		t.Fatalf("unexpected args: %s", mock.args)
	}

	mock.out = `"plain text"`
	out, err = reg.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out["output"] != `"plain text"` {
		t.Fatalf("expected raw output fallback, got %v", out)
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	_, err := NewRegistry().Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestBuiltinRegistry_RegistersEveryProposalTool(t *testing.T) {
	reg, err := NewBuiltinRegistry(Deps{})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry error: %v", err)
	}
	want := []string{"db_query", "forward_to_agent", "http_request", "run_job", "send_message", "shell_command"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDisabledToolsFailLoudly(t *testing.T) {
	reg, err := NewBuiltinRegistry(Deps{})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry error: %v", err)
	}
	for _, name := range []string{"send_message", "shell_command"} {
		_, err := reg.Execute(context.Background(), name, map[string]any{"content": "hi", "command": "echo"})
		if err == nil || !strings.Contains(err.Error(), ErrToolDisabled.Error()) {
			t.Fatalf("%s: expected disabled error, got %v", name, err)
		}
	}
}
