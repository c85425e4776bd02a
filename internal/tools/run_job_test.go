package tools

import (
	"context"
	"testing"
	"time"

	"github.com/MEKXH/gatekeep/internal/tasks"
)

func newRunJobImpl(t *testing.T, now time.Time) (*runJobToolImpl, *tasks.Service) {
	t.Helper()
	svc := tasks.NewService(t.TempDir())
	return &runJobToolImpl{queue: svc, now: func() time.Time { return now }}, svc
}

func TestRunJob_EnqueuesWithInvocationContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	impl, svc := newRunJobImpl(t, now)

	ctx := WithInvocationContext(context.Background(), InvocationContext{
		TraceID:        "trace-1",
		IdempotencyKey: "idem-1",
		AgentID:        "billing",
	})
	out, err := impl.execute(ctx, &RunJobInput{
		Name:    "http_request",
		Payload: map[string]any{"url": "https://api.internal.local/x"},
		DelayMS: 5000,
	})
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if !out.Queued || out.TaskID == "" || out.Status != string(tasks.StatusPending) {
		t.Fatalf("unexpected output: %+v", out)
	}
	if !out.ScheduledAt.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("expected delayed schedule, got %s", out.ScheduledAt)
	}

	task, err := svc.Get(out.TaskID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if task.TraceID != "trace-1" || task.IdempotencyKey != "idem-1" || task.AgentID != "billing" {
		t.Fatalf("expected invocation metadata on task, got %+v", task)
	}

	again, err := impl.execute(ctx, &RunJobInput{Name: "http_request"})
	if err != nil {
		t.Fatalf("second execute error: %v", err)
	}
	if again.TaskID != out.TaskID {
		t.Fatalf("expected idempotent enqueue, got %s and %s", out.TaskID, again.TaskID)
	}
}

func TestRunJob_CronSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	impl, _ := newRunJobImpl(t, now)

	out, err := impl.execute(context.Background(), &RunJobInput{Name: "db_query", Schedule: "*/15 * * * *"})
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if !out.ScheduledAt.Equal(want) {
		t.Fatalf("expected next tick %s, got %s", want, out.ScheduledAt)
	}

	if _, err := impl.execute(context.Background(), &RunJobInput{Name: "db_query", Schedule: "not a cron"}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestRunJob_RequiresName(t *testing.T) {
	impl, _ := newRunJobImpl(t, time.Now())
	if _, err := impl.execute(context.Background(), &RunJobInput{}); err == nil {
		t.Fatal("expected missing name error")
	}
}
