package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/proposal"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/tools"
)

// TaskAgent is the task name for an agent-issued action.
const TaskAgent = "agent_task"

// agent actions the queue may carry out on an agent's behalf
var agentActions = map[string]bool{
	string(proposal.ToolHTTPRequest):    true,
	string(proposal.ToolDBQuery):        true,
	string(proposal.ToolForwardToAgent): true,
}

func builtinExecutors(registry *tools.Registry, recorder *metrics.RuntimeMetrics) map[string]Executor {
	run := func(ctx context.Context, name string, inputs map[string]any) (map[string]any, error) {
		start := time.Now()
		out, err := registry.Execute(ctx, name, inputs)
		if _, merr := recorder.RecordToolExecution(name, time.Since(start), err); merr != nil {
			slog.Warn("failed to record tool metrics", "tool", name, "error", merr)
		}
		return out, err
	}

	return map[string]Executor{
		string(proposal.ToolHTTPRequest): func(ctx context.Context, task tasks.Task) (map[string]any, error) {
			return run(ctx, string(proposal.ToolHTTPRequest), task.Payload)
		},
		string(proposal.ToolDBQuery): func(ctx context.Context, task tasks.Task) (map[string]any, error) {
			return run(ctx, string(proposal.ToolDBQuery), task.Payload)
		},
		TaskAgent: func(ctx context.Context, task tasks.Task) (map[string]any, error) {
			action, inputs, err := agentTaskPayload(task.Payload)
			if err != nil {
				return nil, err
			}
			out, err := run(ctx, action, inputs)
			if err != nil {
				return nil, err
			}
			return map[string]any{"action": action, "output": out}, nil
		},
	}
}

func agentTaskPayload(payload map[string]any) (string, map[string]any, error) {
	action, _ := payload["action"].(string)
	action = strings.TrimSpace(action)
	if action == "" {
		return "", nil, fmt.Errorf("agent_task payload requires action")
	}
	if !agentActions[action] {
		return "", nil, fmt.Errorf("unsupported agent action: %s", action)
	}
	inputs := map[string]any{}
	if raw, ok := payload["inputs"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("agent_task inputs must be an object")
		}
		inputs = m
	}
	return action, inputs, nil
}
