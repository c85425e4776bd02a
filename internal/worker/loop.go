package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/tools"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTaskTimeout  = 30 * time.Second
)

// ErrUnknownTask is the failure recorded for tasks no executor handles.
var ErrUnknownTask = errors.New("unknown task name")

// Executor runs one claimed task and returns its result payload.
type Executor func(ctx context.Context, task tasks.Task) (map[string]any, error)

// Config controls the worker loop.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// Outcome describes what a single RunOnce pass did.
type Outcome struct {
	Processed bool         `json:"processed"`
	TaskID    string       `json:"task_id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Status    tasks.Status `json:"status,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Loop polls the task queue and executes claimed tasks.
type Loop struct {
	cfg     Config
	queue   *tasks.Service
	metrics *metrics.RuntimeMetrics

	execMu    sync.RWMutex
	executors map[string]Executor

	// held for a whole claim/execute/settle pass
	runMu sync.Mutex

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewLoop creates a worker over queue with the built-in executors wired to
// registry. registry and recorder may be nil.
func NewLoop(cfg Config, queue *tasks.Service, registry *tools.Registry, recorder *metrics.RuntimeMetrics) *Loop {
	if strings.TrimSpace(cfg.WorkerID) == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	l := &Loop{
		cfg:       cfg,
		queue:     queue,
		metrics:   recorder,
		executors: make(map[string]Executor),
	}
	if registry != nil {
		for name, exec := range builtinExecutors(registry, recorder) {
			l.Register(name, exec)
		}
	}
	return l
}

// WorkerID returns the claimant id this loop uses.
func (l *Loop) WorkerID() string {
	return l.cfg.WorkerID
}

// Register installs or replaces the executor for a task name.
func (l *Loop) Register(name string, exec Executor) {
	l.execMu.Lock()
	defer l.execMu.Unlock()
	l.executors[strings.TrimSpace(name)] = exec
}

// TaskNames returns the task names with a registered executor.
func (l *Loop) TaskNames() []string {
	l.execMu.RLock()
	defer l.execMu.RUnlock()
	names := make([]string, 0, len(l.executors))
	for name := range l.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRunning returns true when the poll loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start launches the poll loop.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.stopCh = make(chan struct{})
	l.stopped = make(chan struct{})
	l.running = true

	go l.loop(l.stopCh, l.stopped)
	slog.Info("worker loop started", "worker_id", l.cfg.WorkerID, "interval", l.cfg.PollInterval.String())
}

// Stop halts the poll loop and waits for an in-flight task to settle.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	stopCh := l.stopCh
	stopped := l.stopped
	l.running = false
	l.stopCh = nil
	l.stopped = nil
	l.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("worker loop stopped", "worker_id", l.cfg.WorkerID)
}

func (l *Loop) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := l.RunOnce(context.Background()); err != nil {
				slog.Warn("worker pass failed", "worker_id", l.cfg.WorkerID, "error", err)
			}
		}
	}
}

// RunOnce claims at most one eligible task, executes it and records the
// result. The returned error reports queue failures only; task failures are
// recorded on the task and reflected in the Outcome.
func (l *Loop) RunOnce(ctx context.Context) (Outcome, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	task, ok, err := l.queue.ClaimNext(l.cfg.WorkerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		return Outcome{}, nil
	}
	l.record(metrics.TaskClaimed)

	if err := l.queue.Heartbeat(task.ID, l.cfg.WorkerID); err != nil {
		slog.Warn("task heartbeat failed", "task_id", task.ID, "worker_id", l.cfg.WorkerID, "error", err)
	}

	result, execErr := l.execute(ctx, task)
	if execErr != nil {
		failed, err := l.queue.Fail(task.ID, l.cfg.WorkerID, execErr.Error())
		if errors.Is(err, tasks.ErrNotRunning) {
			return l.released(task), nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("fail task %s: %w", task.ID, err)
		}
		if failed.Status == tasks.StatusFailed {
			l.record(metrics.TaskFailed)
		} else {
			l.record(metrics.TaskRetried)
		}
		slog.Warn("task failed",
			"task_id", task.ID,
			"name", task.Name,
			"attempts", failed.Attempts,
			"status", failed.Status,
			"trace_id", task.TraceID,
			"error", execErr,
		)
		return Outcome{Processed: true, TaskID: task.ID, Name: task.Name, Status: failed.Status, Error: execErr.Error()}, nil
	}

	done, err := l.queue.Complete(task.ID, l.cfg.WorkerID, result)
	if errors.Is(err, tasks.ErrNotRunning) {
		return l.released(task), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	l.record(metrics.TaskSucceeded)
	slog.Info("task succeeded", "task_id", task.ID, "name", task.Name, "trace_id", task.TraceID)
	return Outcome{Processed: true, TaskID: task.ID, Name: task.Name, Status: done.Status}, nil
}

func (l *Loop) execute(ctx context.Context, task tasks.Task) (map[string]any, error) {
	l.execMu.RLock()
	exec, ok := l.executors[task.Name]
	l.execMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, task.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TaskTimeout)
	defer cancel()
	ctx = tools.WithInvocationContext(ctx, tools.InvocationContext{
		TraceID:        task.TraceID,
		IdempotencyKey: task.IdempotencyKey,
		AgentID:        task.AgentID,
	})
	return exec(ctx, task)
}

// released reports a task that left running while it executed, which
// happens when it is cancelled mid-flight.
func (l *Loop) released(task tasks.Task) Outcome {
	out := Outcome{Processed: true, TaskID: task.ID, Name: task.Name}
	if current, err := l.queue.Get(task.ID); err == nil {
		out.Status = current.Status
	}
	slog.Info("task released before settling", "task_id", task.ID, "status", out.Status)
	return out
}

func (l *Loop) record(outcome metrics.TaskOutcome) {
	if _, err := l.metrics.RecordTaskOutcome(outcome); err != nil {
		slog.Warn("failed to record task metrics", "error", err)
	}
}
