package session

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
	DefaultMaxTurns   = 10
	DefaultMaxThreads = 1000
)

// Role is who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single turn in a conversation thread.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the bounded history of one conversation thread.
type Session struct {
	Key      string
	Messages []*Message
	maxTurns int
	mu       sync.RWMutex
}

// AddMessage appends a turn, keeping only the newest maxTurns.
func (s *Session) AddMessage(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if s.maxTurns > 0 && len(s.Messages) > s.maxTurns {
		s.Messages = s.Messages[len(s.Messages)-s.maxTurns:]
	}
}

// GetHistory returns the last n messages. n <= 0 means all.
func (s *Session) GetHistory(limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.Messages) {
		limit = len(s.Messages)
	}
	start := len(s.Messages) - limit

	result := make([]Message, 0, limit)
	for _, msg := range s.Messages[start:] {
		result = append(result, *msg)
	}
	return result
}

// Manager keeps conversation threads in memory, persisting each to
// <baseDir>/sessions/<key>.jsonl. Once maxThreads is reached the oldest
// thread is evicted.
type Manager struct {
	dir        string
	maxTurns   int
	maxThreads int

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

// NewManager creates a conversation store. Non-positive limits take defaults.
func NewManager(baseDir string, maxTurns, maxThreads int) *Manager {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	dir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("failed to create sessions dir", "dir", dir, "error", err)
	}
	return &Manager{
		dir:        dir,
		maxTurns:   maxTurns,
		maxThreads: maxThreads,
		sessions:   make(map[string]*Session),
	}
}

// GetOrCreate gets or creates a session, loading persisted turns on first use.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		return sess
	}

	if len(m.order) >= m.maxThreads {
		m.evictOldest()
	}

	sess := &Session{Key: key, maxTurns: m.maxTurns}
	m.loadFromDisk(sess)
	m.sessions[key] = sess
	m.order = append(m.order, key)
	return sess
}

// AddTurn appends a turn to a thread and persists it.
func (m *Manager) AddTurn(key string, role Role, content string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("thread key is required")
	}
	sess := m.GetOrCreate(key)
	sess.AddMessage(role, content)
	return m.Save(sess)
}

// History returns the turns of a thread, oldest first.
func (m *Manager) History(key string) []Message {
	return m.GetOrCreate(key).GetHistory(0)
}

// Clear forgets a thread and removes its file.
func (m *Manager) Clear(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forget(key)
	if err := os.Remove(m.sessionPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ThreadCount returns the number of threads held in memory.
func (m *Manager) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Save persists session to disk
func (m *Manager) Save(sess *Session) error {
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if len(sess.Messages) == 0 {
		return nil
	}

	path := m.sessionPath(sess.Key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, msg := range sess.Messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

// caller holds m.mu
func (m *Manager) evictOldest() {
	if len(m.order) == 0 {
		return
	}
	oldest := m.order[0]
	m.forget(oldest)
	if err := os.Remove(m.sessionPath(oldest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove evicted thread", "key", oldest, "error", err)
	}
}

// caller holds m.mu
func (m *Manager) forget(key string) {
	delete(m.sessions, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) loadFromDisk(sess *Session) {
	path := m.sessionPath(sess.Key)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err == nil {
			sess.Messages = append(sess.Messages, &msg)
		}
	}
	if len(sess.Messages) > sess.maxTurns {
		sess.Messages = sess.Messages[len(sess.Messages)-sess.maxTurns:]
	}
}

func (m *Manager) sessionPath(key string) string {
	safeKey := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(m.dir, safeKey+".jsonl")
}
