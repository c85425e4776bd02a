package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"github.com/MEKXH/gatekeep/internal/tasks"
)

// Enqueuer hands work to the task queue.
type Enqueuer interface {
	Enqueue(input tasks.EnqueueInput) (tasks.Task, error)
}

type RunJobInput struct {
	Name           string         `json:"name" jsonschema:"required,description=Task name (http_request, db_query or agent_task)"`
	Payload        map[string]any `json:"payload,omitempty" jsonschema:"description=Task payload"`
	Priority       *int           `json:"priority,omitempty" jsonschema:"description=Higher runs first (default 100)"`
	MaxAttempts    int            `json:"max_attempts,omitempty" jsonschema:"description=Attempts before the task fails (default 3)"`
	Schedule       string         `json:"schedule,omitempty" jsonschema:"description=Cron expression; the task runs at its next tick"`
	DelayMS        int64          `json:"delay_ms,omitempty" jsonschema:"description=Delay before the task becomes eligible"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" jsonschema:"description=Deduplication key"`
}

type RunJobOutput struct {
	Queued      bool      `json:"queued"`
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type runJobToolImpl struct {
	queue Enqueuer
	now   func() time.Time
}

func (r *runJobToolImpl) execute(ctx context.Context, input *RunJobInput) (*RunJobOutput, error) {
	if r.queue == nil {
		return nil, fmt.Errorf("task queue is not configured")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	now := r.now()
	var scheduledAt time.Time
	if expr := strings.TrimSpace(input.Schedule); expr != "" {
		next, err := gronx.NextTickAfter(expr, now, false)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
		scheduledAt = next
	} else if input.DelayMS > 0 {
		scheduledAt = now.Add(time.Duration(input.DelayMS) * time.Millisecond)
	}

	meta := InvocationFromContext(ctx)
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = meta.IdempotencyKey
	}

	task, err := r.queue.Enqueue(tasks.EnqueueInput{
		Name:           name,
		Payload:        input.Payload,
		Priority:       input.Priority,
		MaxAttempts:    input.MaxAttempts,
		ScheduledAt:    scheduledAt,
		IdempotencyKey: key,
		TraceID:        meta.TraceID,
		AgentID:        meta.AgentID,
	})
	if err != nil {
		return nil, err
	}
	return &RunJobOutput{
		Queued:      true,
		TaskID:      task.ID,
		Status:      string(task.Status),
		ScheduledAt: task.ScheduledAt,
	}, nil
}

// NewRunJobTool creates the run_job tool that enqueues into queue.
func NewRunJobTool(queue Enqueuer) (tool.InvokableTool, error) {
	impl := &runJobToolImpl{queue: queue, now: time.Now}
	return utils.InferTool("run_job", "Enqueue a background task for the worker loop", impl.execute)
}
