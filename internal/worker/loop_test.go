package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/tools"
)

func newTestLoop(t *testing.T, deps tools.Deps) (*Loop, *tasks.Service, *metrics.RuntimeMetrics) {
	t.Helper()
	workspace := t.TempDir()
	queue := tasks.NewService(workspace)
	registry, err := tools.NewBuiltinRegistry(deps)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry error: %v", err)
	}
	recorder := metrics.NewRuntimeMetrics(workspace, nil)
	loop := NewLoop(Config{WorkerID: "worker-test", TaskTimeout: time.Second}, queue, registry, recorder)
	return loop, queue, recorder
}

func enqueue(t *testing.T, queue *tasks.Service, in tasks.EnqueueInput) tasks.Task {
	t.Helper()
	task, err := queue.Enqueue(in)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	return task
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	loop, _, _ := newTestLoop(t, tools.Deps{})
	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Processed {
		t.Fatalf("expected nothing processed, got %+v", out)
	}
}

func TestRunOnce_SucceedsWithRegisteredExecutor(t *testing.T) {
	loop, queue, recorder := newTestLoop(t, tools.Deps{})
	var gotTrace string
	loop.Register("report", func(ctx context.Context, task tasks.Task) (map[string]any, error) {
		gotTrace = tools.InvocationFromContext(ctx).TraceID
		return map[string]any{"rows": 3}, nil
	})
	task := enqueue(t, queue, tasks.EnqueueInput{Name: "report", TraceID: "trace-9"})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !out.Processed || out.TaskID != task.ID || out.Status != tasks.StatusSucceeded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if gotTrace != "trace-9" {
		t.Fatalf("expected trace id in invocation context, got %q", gotTrace)
	}

	stored, err := queue.Get(task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if stored.Result["rows"] != float64(3) || stored.Attempts != 1 {
		t.Fatalf("unexpected stored task: %+v", stored)
	}
	snap := recorder.Snapshot()
	if snap.Tasks.Claimed != 1 || snap.Tasks.Succeeded != 1 {
		t.Fatalf("unexpected task metrics: %+v", snap.Tasks)
	}
}

func TestRunOnce_UnknownTaskNameFails(t *testing.T) {
	loop, queue, recorder := newTestLoop(t, tools.Deps{})
	task := enqueue(t, queue, tasks.EnqueueInput{Name: "mystery", MaxAttempts: 1})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != tasks.StatusFailed || !strings.Contains(out.Error, ErrUnknownTask.Error()) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	stored, _ := queue.Get(task.ID)
	if !strings.Contains(stored.LastError, "unknown task name") {
		t.Fatalf("expected last_error to name unknown task, got %q", stored.LastError)
	}
	if recorder.Snapshot().Tasks.Failed != 1 {
		t.Fatalf("expected failed outcome recorded, got %+v", recorder.Snapshot().Tasks)
	}
}

func TestRunOnce_FailureSchedulesRetry(t *testing.T) {
	loop, queue, _ := newTestLoop(t, tools.Deps{})
	loop.Register("flaky", func(ctx context.Context, task tasks.Task) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	})
	task := enqueue(t, queue, tasks.EnqueueInput{Name: "flaky", MaxAttempts: 2})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != tasks.StatusRetryScheduled {
		t.Fatalf("expected retry_scheduled, got %+v", out)
	}
	stored, _ := queue.Get(task.ID)
	if stored.Attempts != 1 || !stored.ScheduledAt.After(stored.UpdatedAt) {
		t.Fatalf("unexpected stored task: %+v", stored)
	}

	// retry backoff keeps it ineligible on the next pass
	out, err = loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce error: %v", err)
	}
	if out.Processed {
		t.Fatalf("expected retry to wait for backoff, got %+v", out)
	}
}

func TestRunOnce_TimeoutBoundsExecution(t *testing.T) {
	workspace := t.TempDir()
	queue := tasks.NewService(workspace)
	loop := NewLoop(Config{WorkerID: "w", TaskTimeout: 20 * time.Millisecond}, queue, nil, nil)
	loop.Register("slow", func(ctx context.Context, task tasks.Task) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	enqueue(t, queue, tasks.EnqueueInput{Name: "slow", MaxAttempts: 1})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != tasks.StatusFailed || !strings.Contains(out.Error, "deadline exceeded") {
		t.Fatalf("expected deadline failure, got %+v", out)
	}
}

func TestRunOnce_CancelledWhileRunning(t *testing.T) {
	loop, queue, _ := newTestLoop(t, tools.Deps{})
	loop.Register("long", func(ctx context.Context, task tasks.Task) (map[string]any, error) {
		if _, err := queue.Cancel(task.ID); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})
	task := enqueue(t, queue, tasks.EnqueueInput{Name: "long"})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.TaskID != task.ID || out.Status != tasks.StatusCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
}

func TestRunOnce_HTTPRequestTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	loop, queue, recorder := newTestLoop(t, tools.Deps{HTTP: tools.HTTPConfig{AllowHosts: []string{"127.0.0.1"}}})
	task := enqueue(t, queue, tasks.EnqueueInput{
		Name:    "http_request",
		Payload: map[string]any{"url": srv.URL, "method": "POST", "body": map[string]any{"a": 1}},
	})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != tasks.StatusSucceeded {
		t.Fatalf("expected success, got %+v", out)
	}
	stored, _ := queue.Get(task.ID)
	if stored.Result["status"] != float64(200) {
		t.Fatalf("unexpected result: %v", stored.Result)
	}
	if recorder.Snapshot().Tool.Total != 1 {
		t.Fatalf("expected tool execution recorded, got %+v", recorder.Snapshot().Tool)
	}
}

func TestRunOnce_AgentTaskForwardsMessage(t *testing.T) {
	mailbox := bus.NewMailbox(10)
	loop, queue, _ := newTestLoop(t, tools.Deps{Deliverer: mailbox})
	enqueue(t, queue, tasks.EnqueueInput{
		Name:    TaskAgent,
		TraceID: "trace-42",
		AgentID: "planner",
		Payload: map[string]any{
			"action": "forward_to_agent",
			"inputs": map[string]any{"to_agent_id": "executor", "content": "run the report"},
		},
	})

	out, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != tasks.StatusSucceeded {
		t.Fatalf("expected success, got %+v", out)
	}
	msgs := mailbox.List("executor", true)
	if len(msgs) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(msgs))
	}
	if msgs[0].FromAgentID != "planner" || msgs[0].Metadata["trace_id"] != "trace-42" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestAgentTaskPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr string
	}{
		{"missing action", map[string]any{}, "requires action"},
		{"unsupported action", map[string]any{"action": "shell_command"}, "unsupported agent action"},
		{"bad inputs", map[string]any{"action": "db_query", "inputs": "select 1"}, "inputs must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := agentTaskPayload(tt.payload)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	action, inputs, err := agentTaskPayload(map[string]any{"action": "db_query"})
	if err != nil || action != "db_query" || len(inputs) != 0 {
		t.Fatalf("unexpected parse: %q %v %v", action, inputs, err)
	}
}

func TestLoopStartStop(t *testing.T) {
	queue := tasks.NewService(t.TempDir())
	loop := NewLoop(Config{PollInterval: 10 * time.Millisecond}, queue, nil, nil)
	done := make(chan struct{}, 1)
	loop.Register("tick", func(ctx context.Context, task tasks.Task) (map[string]any, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil, nil
	})
	enqueue(t, queue, tasks.EnqueueInput{Name: "tick"})

	loop.Start()
	loop.Start()
	if !loop.IsRunning() {
		t.Fatal("expected loop to be running")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the poll loop to execute the task")
	}
	loop.Stop()
	loop.Stop()
	if loop.IsRunning() {
		t.Fatal("expected loop to be stopped")
	}
	if !strings.HasPrefix(NewLoop(Config{}, queue, nil, nil).WorkerID(), "worker-") {
		t.Fatal("expected default worker id")
	}
}
