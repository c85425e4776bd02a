package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755

	maxAuditLineBytes = 1024 * 1024
)

// Stage names one step of handling an inbound event.
type Stage string

const (
	StageEvent     Stage = "event"
	StageLLMCall   Stage = "llm_call"
	StageProposal  Stage = "proposal"
	StageDecision  Stage = "decision"
	StageExecution Stage = "execution"
	StageOutbound  Stage = "outbound"
)

// Record is one audit record written as a single JSON line.
type Record struct {
	TraceID   string         `json:"trace_id"`
	Stage     Stage          `json:"stage"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Writer appends audit records to <workspace>/state/audit.jsonl.
type Writer struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer rooted at workspace state.
func NewWriter(workspace string) *Writer {
	return &Writer{
		path: filepath.Join(workspace, "state", "audit.jsonl"),
		now:  time.Now,
	}
}

// Path returns the audit log location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one record as one JSONL line.
func (w *Writer) Append(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// LogStage records one stage for a trace. Failures are logged, never returned,
// so auditing cannot break request handling.
func (w *Writer) LogStage(traceID string, stage Stage, payload map[string]any) {
	if w == nil {
		return
	}
	err := w.Append(Record{
		TraceID:   traceID,
		Stage:     stage,
		Payload:   payload,
		CreatedAt: w.now().UTC(),
	})
	if err != nil {
		slog.Warn("audit append failed", "trace_id", traceID, "stage", stage, "error", err)
	}
}

// ListByTrace returns every record for traceID in write order.
func (w *Writer) ListByTrace(traceID string) ([]Record, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil, fmt.Errorf("trace_id is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	records := make([]Record, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxAuditLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed audit line", "error", err)
			continue
		}
		if rec.TraceID == traceID {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return records, nil
}
