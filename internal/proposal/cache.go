package proposal

import (
	"strings"
	"sync"
)

// DefaultCacheSize bounds how many idempotency keys a Cache remembers.
const DefaultCacheSize = 10000

// Cache remembers accepted proposals by idempotency key. Once full, the
// oldest key is forgotten first.
type Cache struct {
	mu    sync.Mutex
	items map[string]ToolProposal
	order []string
	max   int
}

// NewCache creates an empty proposal cache holding DefaultCacheSize keys.
func NewCache() *Cache {
	return NewCacheWithSize(DefaultCacheSize)
}

// NewCacheWithSize creates a cache holding at most size keys.
func NewCacheWithSize(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{items: make(map[string]ToolProposal), max: size}
}

// Add stores the proposal unless its key was seen before. It reports
// whether the proposal was accepted.
func (c *Cache) Add(p ToolProposal) bool {
	key := strings.TrimSpace(p.IdempotencyKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		return false
	}
	for len(c.order) >= c.max {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.items[key] = p
	c.order = append(c.order, key)
	return true
}

// Get returns the proposal cached under the key.
func (c *Cache) Get(key string) (ToolProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[strings.TrimSpace(key)]
	return p, ok
}

// Len returns the number of cached proposals.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
