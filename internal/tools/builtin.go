package tools

import (
	"database/sql"

	"github.com/cloudwego/eino/components/tool"
)

// Deps are the collaborators of the built-in tools.
type Deps struct {
	HTTP      HTTPConfig
	DB        *sql.DB
	Queue     Enqueuer
	Deliverer Deliverer
}

// NewBuiltinRegistry registers every tool a proposal may name.
func NewBuiltinRegistry(deps Deps) (*Registry, error) {
	reg := NewRegistry()
	constructors := []func() (tool.InvokableTool, error){
		func() (tool.InvokableTool, error) { return NewHTTPRequestTool(deps.HTTP) },
		func() (tool.InvokableTool, error) { return NewDBQueryTool(deps.DB) },
		func() (tool.InvokableTool, error) { return NewRunJobTool(deps.Queue) },
		func() (tool.InvokableTool, error) { return NewForwardToAgentTool(deps.Deliverer) },
		NewSendMessageTool,
		NewShellCommandTool,
	}
	for _, build := range constructors {
		t, err := build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
