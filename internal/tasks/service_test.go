package tasks

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T, now time.Time) (*Service, *time.Time) {
	t.Helper()
	svc := NewService(t.TempDir())
	current := now
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestEnqueue_Defaults(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, fixedNow)

	task, err := svc.Enqueue(EnqueueInput{Name: "http_request", Payload: map[string]any{"url": "https://example.com"}})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected status %q, got %q", StatusPending, task.Status)
	}
	if task.Priority != DefaultPriority || task.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("unexpected defaults: priority=%d max_attempts=%d", task.Priority, task.MaxAttempts)
	}
	if !task.ScheduledAt.Equal(fixedNow) {
		t.Fatalf("expected scheduled_at %s, got %s", fixedNow, task.ScheduledAt)
	}

	zero, err := svc.Enqueue(EnqueueInput{Name: "noop", Priority: intPtr(0), MaxAttempts: -4})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if zero.Priority != 0 || zero.MaxAttempts != 1 {
		t.Fatalf("unexpected explicit values: priority=%d max_attempts=%d", zero.Priority, zero.MaxAttempts)
	}

	if _, err := svc.Enqueue(EnqueueInput{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnqueue_IdempotencyKeyReturnsExisting(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	first, err := svc.Enqueue(EnqueueInput{Name: "job", Payload: map[string]any{"n": 1}, IdempotencyKey: "same"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	second, err := svc.Enqueue(EnqueueInput{Name: "job", Payload: map[string]any{"n": 2}, IdempotencyKey: "same"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same task, got %q and %q", first.ID, second.ID)
	}
	if second.Payload["n"] != float64(1) {
		t.Fatalf("expected original payload, got %v", second.Payload)
	}

	all, err := svc.List(Query{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 task, got %d", len(all))
	}
}

func TestClaimNext_PriorityThenScheduleThenCreation(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, now := newTestService(t, base)

	low, _ := svc.Enqueue(EnqueueInput{Name: "low", Priority: intPtr(10)})
	*now = base.Add(time.Second)
	high, _ := svc.Enqueue(EnqueueInput{Name: "high", Priority: intPtr(999)})
	*now = base.Add(2 * time.Second)
	highLater, _ := svc.Enqueue(EnqueueInput{Name: "high-later", Priority: intPtr(999)})
	future, _ := svc.Enqueue(EnqueueInput{Name: "future", Priority: intPtr(5000), ScheduledAt: base.Add(time.Hour)})

	*now = base.Add(3 * time.Second)
	order := []string{high.ID, highLater.ID, low.ID}
	for _, want := range order {
		got, ok, err := svc.ClaimNext("w1")
		if err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}
		if !ok {
			t.Fatal("expected a task to be claimed")
		}
		if got.ID != want {
			t.Fatalf("expected %q, got %q (%s)", want, got.ID, got.Name)
		}
		if got.Status != StatusRunning || got.ClaimedBy != "w1" || got.HeartbeatAt == nil {
			t.Fatalf("unexpected claim fields: %+v", got)
		}
	}

	if _, ok, err := svc.ClaimNext("w1"); err != nil || ok {
		t.Fatalf("expected nothing eligible, ok=%v err=%v", ok, err)
	}

	got, ok, err := svc.ClaimNextAt("w1", base.Add(2*time.Hour))
	if err != nil || !ok || got.ID != future.ID {
		t.Fatalf("expected future task once eligible, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestFail_RetryThenTerminal(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, now := newTestService(t, base)

	task, err := svc.Enqueue(EnqueueInput{Name: "flaky", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	if _, _, err := svc.ClaimNext("w1"); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	failed, err := svc.Fail(task.ID, "w1", "boom")
	if err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if failed.Status != StatusRetryScheduled || failed.Attempts != 1 {
		t.Fatalf("expected retry_scheduled/1, got %s/%d", failed.Status, failed.Attempts)
	}
	if !failed.ScheduledAt.Equal(base.Add(time.Second)) {
		t.Fatalf("expected 1s backoff, got %s", failed.ScheduledAt.Sub(base))
	}

	if _, ok, _ := svc.ClaimNext("w1"); ok {
		t.Fatal("expected retry to wait for backoff")
	}

	*now = base.Add(2 * time.Second)
	if _, ok, err := svc.ClaimNext("w1"); err != nil || !ok {
		t.Fatalf("expected retry claim, ok=%v err=%v", ok, err)
	}
	failed, err = svc.Fail(task.ID, "w1", "boom again")
	if err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if failed.Status != StatusFailed || failed.Attempts != 2 {
		t.Fatalf("expected failed/2, got %s/%d", failed.Status, failed.Attempts)
	}
	if failed.LastError != "boom again" {
		t.Fatalf("unexpected last error: %q", failed.LastError)
	}

	*now = base.Add(time.Hour)
	if _, ok, _ := svc.ClaimNext("w1"); ok {
		t.Fatal("expected failed task never to be claimed again")
	}
}

func TestCompleteAndFail_RequireClaim(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	task, _ := svc.Enqueue(EnqueueInput{Name: "job"})
	if _, err := svc.Complete(task.ID, "w1", nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, _, err := svc.ClaimNext("w1"); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if _, err := svc.Fail(task.ID, "w2", "x"); !errors.Is(err, ErrClaimMismatch) {
		t.Fatalf("expected ErrClaimMismatch, got %v", err)
	}
	if _, err := svc.Complete("missing", "w1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	done, err := svc.Complete(task.ID, "w1", map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 1 || done.Result["ok"] != true {
		t.Fatalf("unexpected completed task: %+v", done)
	}
}

func TestHeartbeat_OnlyForClaimant(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, now := newTestService(t, base)

	task, _ := svc.Enqueue(EnqueueInput{Name: "job"})
	if _, _, err := svc.ClaimNext("w1"); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}

	*now = base.Add(5 * time.Second)
	if err := svc.Heartbeat(task.ID, "w2"); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	got, _ := svc.Get(task.ID)
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(base) {
		t.Fatalf("expected heartbeat unchanged for other worker, got %s", got.HeartbeatAt)
	}

	if err := svc.Heartbeat(task.ID, "w1"); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	got, _ = svc.Get(task.ID)
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("expected heartbeat refreshed, got %s", got.HeartbeatAt)
	}
}

func TestCancelAndDelete(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	pending, _ := svc.Enqueue(EnqueueInput{Name: "pending"})
	running, _ := svc.Enqueue(EnqueueInput{Name: "running", Priority: intPtr(500)})
	if _, _, err := svc.ClaimNext("w1"); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}

	if err := svc.Delete(pending.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal for pending, got %v", err)
	}
	if err := svc.Delete(running.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal for running, got %v", err)
	}
	if err := svc.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Complete(running.ID, "w1", nil); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if _, err := svc.Cancel(running.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	cancelled, err := svc.Cancel(pending.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}

	for _, id := range []string{pending.ID, running.ID} {
		if err := svc.Delete(id); err != nil {
			t.Fatalf("Delete(%s) error: %v", id, err)
		}
	}
	all, _ := svc.List(Query{})
	if len(all) != 0 {
		t.Fatalf("expected empty queue, got %d", len(all))
	}
}

func TestListFiltersAndStats(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	_, _ = svc.Enqueue(EnqueueInput{Name: "a", AgentID: "alpha"})
	_, _ = svc.Enqueue(EnqueueInput{Name: "b", AgentID: "beta", Priority: intPtr(200)})
	_, _ = svc.Enqueue(EnqueueInput{Name: "c", AgentID: "alpha"})
	if _, _, err := svc.ClaimNext("w1"); err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}

	alpha, err := svc.List(Query{AgentID: "alpha"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(alpha) != 2 || alpha[0].Name != "a" {
		t.Fatalf("unexpected alpha tasks: %+v", alpha)
	}
	pending, _ := svc.List(Query{Status: StatusPending, Limit: 1})
	if len(pending) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(pending))
	}

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats[StatusRunning] != 1 || stats[StatusPending] != 2 || stats[StatusFailed] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	tests := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		6:  32 * time.Second,
		7:  time.Minute,
		40: time.Minute,
	}
	for attempts, want := range tests {
		if got := RetryDelay(attempts); got != want {
			t.Fatalf("RetryDelay(%d) = %s, want %s", attempts, got, want)
		}
	}
}

func TestPersistenceAcrossServices(t *testing.T) {
	workspace := t.TempDir()
	first := NewService(workspace)
	task, err := first.Enqueue(EnqueueInput{Name: "persist"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	second := NewService(workspace)
	got, err := second.Get(task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Name != "persist" {
		t.Fatalf("expected persisted task, got %+v", got)
	}
}

func TestEnqueue_UnclaimedTaskOmitsClaimTimestamps(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if _, err := svc.Enqueue(EnqueueInput{Name: "noop"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	raw, err := os.ReadFile(svc.store.Path())
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	for _, field := range []string{`"claimed_at"`, `"heartbeat_at"`, "0001-01-01"} {
		if strings.Contains(string(raw), field) {
			t.Fatalf("expected %s absent from unclaimed task:\n%s", field, raw)
		}
	}
}
