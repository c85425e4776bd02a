package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/gatekeep/internal/state"
)

const runtimeMetricsFileName = "runtime_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// TaskOutcome names a task lifecycle transition the worker reports.
type TaskOutcome string

const (
	TaskClaimed   TaskOutcome = "claimed"
	TaskSucceeded TaskOutcome = "succeeded"
	TaskRetried   TaskOutcome = "retried"
	TaskFailed    TaskOutcome = "failed"
)

// RuntimeSnapshot contains aggregated runtime metrics.
type RuntimeSnapshot struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Tool      ToolStats        `json:"tool"`
	Channel   ChannelStats     `json:"channel"`
	Tasks     TaskStats        `json:"tasks"`
	Decisions map[string]int64 `json:"decisions,omitempty"`
}

// ToolStats tracks tool execution metrics.
type ToolStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Total)
}

// TimeoutRatio returns timeouts/total in [0,1].
func (t ToolStats) TimeoutRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Timeouts) / float64(t.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Total)
}

// ChannelStats tracks outbound channel send metrics.
type ChannelStats struct {
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c ChannelStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// TaskStats counts worker outcomes.
type TaskStats struct {
	Claimed   int64 `json:"claimed"`
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

// HasData reports whether any runtime metrics were recorded.
func (s RuntimeSnapshot) HasData() bool {
	return s.Tool.Total > 0 || s.Channel.SendAttempts > 0 || s.Tasks.Claimed > 0 || len(s.Decisions) > 0
}

// RuntimeMetrics records and persists runtime metrics, mirroring each
// observation into the Prometheus collectors when present.
type RuntimeMetrics struct {
	doc  state.Document
	prom *Collectors

	mu      sync.Mutex
	snap    RuntimeSnapshot
	buckets []int64
}

// NewRuntimeMetrics creates a recorder rooted at <workspace>/state/runtime_metrics.json.
// collectors may be nil.
func NewRuntimeMetrics(workspacePath string, collectors *Collectors) *RuntimeMetrics {
	return &RuntimeMetrics{
		doc:     state.NewDocument(workspacePath, runtimeMetricsFileName),
		prom:    collectors,
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Collectors returns the attached Prometheus collectors, possibly nil.
func (m *RuntimeMetrics) Collectors() *Collectors {
	if m == nil {
		return nil
	}
	return m.prom
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	if m == nil {
		return RuntimeSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copySnapshot()
}

// RecordToolExecution updates tool metrics and persists the snapshot.
func (m *RuntimeMetrics) RecordToolExecution(tool string, duration time.Duration, runErr error) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	m.snap.Tool.Total++
	m.snap.Tool.TotalLatencyMs += latencyMs
	m.snap.Tool.LastLatencyMs = latencyMs
	if latencyMs > m.snap.Tool.MaxLatencyMs {
		m.snap.Tool.MaxLatencyMs = latencyMs
	}
	if runErr != nil {
		m.snap.Tool.Errors++
		if isTimeoutError(runErr) {
			m.snap.Tool.Timeouts++
		}
	}
	m.buckets[latencyBucketIndex(latencyMs)]++
	m.snap.Tool.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, m.snap.Tool.Total)
	snapshot := m.copySnapshot()
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.toolRuns.WithLabelValues(tool, resultLabel(runErr)).Inc()
		m.prom.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
	return snapshot, m.persist(snapshot)
}

// RecordChannelSend updates outbound channel send metrics and persists the snapshot.
func (m *RuntimeMetrics) RecordChannelSend(success bool) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	m.snap.Channel.SendAttempts++
	if !success {
		m.snap.Channel.SendFailures++
	}
	snapshot := m.copySnapshot()
	m.mu.Unlock()

	if m.prom != nil {
		result := "ok"
		if !success {
			result = "error"
		}
		m.prom.channelSends.WithLabelValues(result).Inc()
	}
	return snapshot, m.persist(snapshot)
}

// RecordTaskOutcome counts a worker transition.
func (m *RuntimeMetrics) RecordTaskOutcome(outcome TaskOutcome) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	switch outcome {
	case TaskClaimed:
		m.snap.Tasks.Claimed++
	case TaskSucceeded:
		m.snap.Tasks.Succeeded++
	case TaskRetried:
		m.snap.Tasks.Retried++
	case TaskFailed:
		m.snap.Tasks.Failed++
	default:
		m.mu.Unlock()
		return RuntimeSnapshot{}, fmt.Errorf("unknown task outcome: %s", outcome)
	}
	snapshot := m.copySnapshot()
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.taskOutcomes.WithLabelValues(string(outcome)).Inc()
	}
	return snapshot, m.persist(snapshot)
}

// RecordDecision counts one policy decision by action.
func (m *RuntimeMetrics) RecordDecision(action string) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}
	action = strings.TrimSpace(action)

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	if m.snap.Decisions == nil {
		m.snap.Decisions = make(map[string]int64)
	}
	m.snap.Decisions[action]++
	snapshot := m.copySnapshot()
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.decisions.WithLabelValues(action).Inc()
	}
	return snapshot, m.persist(snapshot)
}

// ReadRuntimeSnapshot reads the persisted snapshot from workspace state.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadRuntimeSnapshot(workspacePath string) (RuntimeSnapshot, error) {
	var snap RuntimeSnapshot
	if _, err := state.NewDocument(workspacePath, runtimeMetricsFileName).Load(&snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}
	return snap, nil
}

// caller holds m.mu
func (m *RuntimeMetrics) copySnapshot() RuntimeSnapshot {
	snap := m.snap
	if m.snap.Decisions != nil {
		snap.Decisions = make(map[string]int64, len(m.snap.Decisions))
		for k, v := range m.snap.Decisions {
			snap.Decisions[k] = v
		}
	}
	return snap
}

func (m *RuntimeMetrics) persist(snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(m.doc.Path()) == "" {
		return nil
	}
	return m.doc.Save(snapshot)
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(runErr error) bool {
	if runErr == nil {
		return false
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(runErr.Error())
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}
