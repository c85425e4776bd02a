package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LearningKind classifies what an execution taught.
type LearningKind string

const (
	LearningMethodology LearningKind = "methodology"
	LearningPitfall     LearningKind = "pitfall"
	LearningDecision    LearningKind = "decision"
)

// Learning is a note distilled from one execution.
type Learning struct {
	Scope     string         `json:"scope"`
	Kind      LearningKind   `json:"kind"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LearningRecorder persists learnings. Callers log failures and carry on.
type LearningRecorder interface {
	RecordLearning(ctx context.Context, l Learning) error
}

// FileLearningRecorder appends learnings to <workspace>/state/learnings.jsonl.
type FileLearningRecorder struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileLearningRecorder creates a JSONL learning recorder.
func NewFileLearningRecorder(workspace string) *FileLearningRecorder {
	return &FileLearningRecorder{
		path: filepath.Join(workspace, "state", "learnings.jsonl"),
		now:  time.Now,
	}
}

// RecordLearning appends l as one JSON line.
func (r *FileLearningRecorder) RecordLearning(ctx context.Context, l Learning) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("learning title is required")
	}
	switch l.Kind {
	case LearningMethodology, LearningPitfall, LearningDecision:
	default:
		return fmt.Errorf("unknown learning kind: %q", l.Kind)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), auditDirMode); err != nil {
		return fmt.Errorf("create learning dir: %w", err)
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open learning file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal learning: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append learning: %w", err)
	}
	return nil
}
