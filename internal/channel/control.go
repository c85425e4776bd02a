package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultActivityTTL is how long after its last event a channel still
// counts as connected.
const DefaultActivityTTL = time.Minute

var ErrUnknownChannel = errors.New("unknown channel")

// State is the operator-facing status of one channel.
type State struct {
	Enabled        bool       `json:"enabled"`
	Connected      bool       `json:"connected"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastActivityAt *time.Time `json:"last_activity_at"`
}

// Control tracks which channels accept traffic. It is process-local and
// every channel starts enabled.
type Control struct {
	states      map[string]*State
	activityTTL time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

func NewControl(names ...string) *Control {
	c := &Control{
		states:      make(map[string]*State, len(names)),
		activityTTL: DefaultActivityTTL,
		now:         time.Now,
	}
	for _, name := range names {
		c.add(name)
	}
	return c
}

func (c *Control) add(name string) {
	if _, ok := c.states[name]; !ok {
		c.states[name] = &State{Enabled: true, UpdatedAt: c.now().UTC()}
	}
}

// Add tracks name if it is not tracked yet.
func (c *Control) Add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(name)
}

// Enabled reports whether name accepts traffic. Untracked channels are
// enabled.
func (c *Control) Enabled(name string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	return !ok || st.Enabled
}

// SetEnabled toggles a tracked channel and returns the new snapshot.
func (c *Control) SetEnabled(name string, enabled bool) (map[string]State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	st.Enabled = enabled
	st.UpdatedAt = c.now().UTC()
	return c.snapshot(), nil
}

// MarkActivity records traffic on name.
func (c *Control) MarkActivity(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(name)
	now := c.now().UTC()
	st := c.states[name]
	st.LastActivityAt = &now
	st.UpdatedAt = now
}

// Snapshot returns every tracked channel. Connected is derived from recent
// activity on an enabled channel.
func (c *Control) Snapshot() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Control) snapshot() map[string]State {
	now := c.now()
	out := make(map[string]State, len(c.states))
	for name, st := range c.states {
		s := *st
		s.Connected = s.Enabled && s.LastActivityAt != nil && now.Sub(*s.LastActivityAt) <= c.activityTTL
		out[name] = s
	}
	return out
}

// Names returns tracked channel names, sorted.
func (c *Control) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.states))
	for name := range c.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
