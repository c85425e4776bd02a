package tasks

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPriority    = 100
	DefaultMaxAttempts = 3

	baseRetryDelay = time.Second
	maxRetryDelay  = time.Minute
)

// Service owns every task transition. Operations hold one mutex across
// load, mutate and save.
type Service struct {
	store *Store
	now   func() time.Time
	mu    sync.Mutex
}

// NewService creates a queue backed by <workspace>/state/task_queue.json.
func NewService(workspace string) *Service {
	return &Service{
		store: NewStore(workspace),
		now:   time.Now,
	}
}

// Enqueue inserts a pending task. A task whose idempotency key already
// exists is returned unchanged.
func (s *Service) Enqueue(input EnqueueInput) (Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Task{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	key := strings.TrimSpace(input.IdempotencyKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}

	if key != "" {
		for _, task := range data.Tasks {
			if task.IdempotencyKey == key {
				return task, nil
			}
		}
	}

	now := s.now().UTC()
	task := Task{
		ID:             uuid.NewString(),
		Name:           name,
		Payload:        input.Payload,
		TraceID:        strings.TrimSpace(input.TraceID),
		IdempotencyKey: key,
		Priority:       DefaultPriority,
		Status:         StatusPending,
		MaxAttempts:    normalizeMaxAttempts(input.MaxAttempts),
		ScheduledAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
		AgentID:        strings.TrimSpace(input.AgentID),
	}
	if input.Priority != nil {
		task.Priority = *input.Priority
	}
	if !input.ScheduledAt.IsZero() {
		task.ScheduledAt = input.ScheduledAt.UTC()
	}
	if task.Payload == nil {
		task.Payload = map[string]any{}
	}

	data.Tasks = append(data.Tasks, task)
	if err := s.store.Save(data); err != nil {
		return Task{}, err
	}
	slog.Debug("task enqueued", "task_id", task.ID, "name", task.Name, "priority", task.Priority, "trace_id", task.TraceID)
	return task, nil
}

// ClaimNext moves the most urgent eligible task to running for workerID.
// It reports false when nothing is eligible at the current time.
func (s *Service) ClaimNext(workerID string) (Task, bool, error) {
	return s.ClaimNextAt(workerID, s.now())
}

// ClaimNextAt is ClaimNext evaluated at an explicit time.
func (s *Service) ClaimNextAt(workerID string, now time.Time) (Task, bool, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return Task{}, false, fmt.Errorf("%w: worker id is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, false, err
	}

	now = now.UTC()
	var next *Task
	for i := range data.Tasks {
		task := &data.Tasks[i]
		if task.Status != StatusPending && task.Status != StatusRetryScheduled {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if next == nil || queueLess(*task, *next) {
			next = task
		}
	}
	if next == nil {
		return Task{}, false, nil
	}

	next.Status = StatusRunning
	next.ClaimedBy = workerID
	next.ClaimedAt = timePtr(now)
	next.HeartbeatAt = timePtr(now)
	next.UpdatedAt = now

	if err := s.store.Save(data); err != nil {
		return Task{}, false, err
	}
	return *next, true, nil
}

// Heartbeat refreshes the claim of a running task. It is a no-op unless
// workerID holds the claim.
func (s *Service) Heartbeat(id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return err
	}

	task := findByID(data.Tasks, id)
	if task == nil || task.Status != StatusRunning || task.ClaimedBy != workerID {
		return nil
	}
	now := s.now().UTC()
	task.HeartbeatAt = timePtr(now)
	task.UpdatedAt = now
	return s.store.Save(data)
}

// Complete records a successful execution.
func (s *Service) Complete(id, workerID string, result map[string]any) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}

	task, err := claimedTask(data.Tasks, id, workerID)
	if err != nil {
		return Task{}, err
	}

	task.Attempts++
	task.Status = StatusSucceeded
	task.Result = result
	task.LastError = ""
	task.UpdatedAt = s.now().UTC()

	if err := s.store.Save(data); err != nil {
		return Task{}, err
	}
	return *task, nil
}

// Fail records a failed execution and schedules a retry with exponential
// backoff, or marks the task failed once attempts are exhausted.
func (s *Service) Fail(id, workerID, errMsg string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}

	task, err := claimedTask(data.Tasks, id, workerID)
	if err != nil {
		return Task{}, err
	}

	now := s.now().UTC()
	task.Attempts++
	task.LastError = errMsg
	task.UpdatedAt = now

	if task.Attempts >= task.MaxAttempts {
		task.Status = StatusFailed
		task.ScheduledAt = now
	} else {
		task.Status = StatusRetryScheduled
		task.ScheduledAt = now.Add(RetryDelay(task.Attempts))
	}

	if err := s.store.Save(data); err != nil {
		return Task{}, err
	}
	return *task, nil
}

// Cancel stops a task that has not reached succeeded or failed.
func (s *Service) Cancel(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}

	task := findByID(data.Tasks, id)
	if task == nil {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Status == StatusSucceeded || task.Status == StatusFailed {
		return Task{}, fmt.Errorf("%w: %s is %s", ErrTerminal, id, task.Status)
	}

	task.Status = StatusCancelled
	task.UpdatedAt = s.now().UTC()

	if err := s.store.Save(data); err != nil {
		return Task{}, err
	}
	return *task, nil
}

// Delete removes a terminal task.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return err
	}

	idx := -1
	for i := range data.Tasks {
		if data.Tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !data.Tasks[idx].Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, data.Tasks[idx].Status)
	}

	data.Tasks = append(data.Tasks[:idx], data.Tasks[idx+1:]...)
	return s.store.Save(data)
}

// Get returns one task.
func (s *Service) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}
	task := findByID(data.Tasks, id)
	if task == nil {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *task, nil
}

// List returns tasks in claim order: priority desc, scheduled_at asc,
// created_at asc.
func (s *Service) List(query Query) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	agentFilter := strings.TrimSpace(query.AgentID)
	result := make([]Task, 0, len(data.Tasks))
	for _, task := range data.Tasks {
		if query.Status != "" && task.Status != query.Status {
			continue
		}
		if agentFilter != "" && task.AgentID != agentFilter {
			continue
		}
		result = append(result, task)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return queueLess(result[i], result[j])
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// Stats counts tasks per status.
func (s *Service) Stats() (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for _, task := range data.Tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// RetryDelay returns the backoff applied after the given attempt count.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := baseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func normalizeMaxAttempts(n int) int {
	if n == 0 {
		return DefaultMaxAttempts
	}
	if n < 1 {
		return 1
	}
	return n
}

func queueLess(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func findByID(tasks []Task, id string) *Task {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

func claimedTask(tasks []Task, id, workerID string) (*Task, error) {
	task := findByID(tasks, id)
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, id, task.Status)
	}
	if task.ClaimedBy != workerID {
		return nil, fmt.Errorf("%w: %s held by %q", ErrClaimMismatch, id, task.ClaimedBy)
	}
	return task, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
