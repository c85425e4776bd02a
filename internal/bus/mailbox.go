package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMailboxSize = 100

// AgentMessage is one message delivered from one agent to another.
type AgentMessage struct {
	ID          string         `json:"id"`
	FromAgentID string         `json:"from_agent_id"`
	ToAgentID   string         `json:"to_agent_id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Read        bool           `json:"read"`
}

// Mailbox keeps a bounded in-memory message queue per agent.
type Mailbox struct {
	mu      sync.Mutex
	maxSize int
	queues  map[string][]*AgentMessage
	now     func() time.Time
}

// NewMailbox creates a mailbox keeping at most maxSize messages per agent.
func NewMailbox(maxSize int) *Mailbox {
	if maxSize <= 0 {
		maxSize = defaultMailboxSize
	}
	return &Mailbox{
		maxSize: maxSize,
		queues:  make(map[string][]*AgentMessage),
		now:     time.Now,
	}
}

// Deliver appends a message to the recipient queue, evicting the oldest
// messages once the queue is full.
func (m *Mailbox) Deliver(_ context.Context, msg AgentMessage) (AgentMessage, error) {
	to := strings.TrimSpace(msg.ToAgentID)
	if to == "" {
		return AgentMessage{}, fmt.Errorf("to_agent_id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return AgentMessage{}, fmt.Errorf("content is required")
	}

	stored := msg
	stored.ToAgentID = to
	stored.FromAgentID = strings.TrimSpace(msg.FromAgentID)
	if stored.ID == "" {
		stored.ID = "msg-" + uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now().UTC()
	}
	stored.Read = false

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := append(m.queues[to], &stored)
	if len(queue) > m.maxSize {
		queue = queue[len(queue)-m.maxSize:]
	}
	m.queues[to] = queue
	return stored, nil
}

// List returns messages for an agent, optionally only unread ones.
func (m *Mailbox) List(agentID string, onlyUnread bool) []AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[strings.TrimSpace(agentID)]
	result := make([]AgentMessage, 0, len(queue))
	for _, msg := range queue {
		if onlyUnread && msg.Read {
			continue
		}
		result = append(result, *msg)
	}
	return result
}

// MarkRead flags a message as read. It reports whether the message existed.
func (m *Mailbox) MarkRead(agentID, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.queues[strings.TrimSpace(agentID)] {
		if msg.ID == messageID {
			msg.Read = true
			return true
		}
	}
	return false
}

// PendingCount returns the number of unread messages for an agent.
func (m *Mailbox) PendingCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, msg := range m.queues[strings.TrimSpace(agentID)] {
		if !msg.Read {
			count++
		}
	}
	return count
}
