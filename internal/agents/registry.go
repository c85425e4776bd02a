// Package agents keeps the registry of agent profiles a workspace knows.
package agents

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/gatekeep/internal/state"
)

const storeFile = "agents.json"

var (
	ErrNotFound     = errors.New("agent not found")
	ErrInvalidInput = errors.New("invalid agent input")
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Profile describes one registered agent.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Primary   bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileData struct {
	Agents []Profile `json:"agents"`
}

// Registry persists agent profiles in <workspace>/state/agents.json.
type Registry struct {
	doc state.Document
	now func() time.Time
	mu  sync.Mutex
}

func NewRegistry(workspace string) *Registry {
	return &Registry{doc: state.NewDocument(workspace, storeFile), now: time.Now}
}

func (r *Registry) load() (fileData, error) {
	var data fileData
	if _, err := r.doc.Load(&data); err != nil {
		return fileData{}, err
	}
	return data, nil
}

// EnsurePrimary returns the primary agent, creating it with id when none
// exists yet.
func (r *Registry) EnsurePrimary(id, model string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range data.Agents {
		if p.Primary {
			return p, nil
		}
	}

	now := r.now().UTC()
	p := Profile{
		ID:        Slug(id),
		Name:      strings.TrimSpace(id),
		Model:     strings.TrimSpace(model),
		Primary:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data.Agents = append(data.Agents, p)
	if err := r.doc.Save(data); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Create registers a secondary agent. The id is the slug of name, suffixed
// with -2, -3 and so on when taken.
func (r *Registry) Create(name, model string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return Profile{}, err
	}
	taken := make(map[string]bool, len(data.Agents))
	for _, p := range data.Agents {
		taken[p.ID] = true
	}
	base := Slug(name)
	id := base
	for i := 2; taken[id]; i++ {
		id = fmt.Sprintf("%s-%d", base, i)
	}

	now := r.now().UTC()
	p := Profile{
		ID:        id,
		Name:      name,
		Model:     strings.TrimSpace(model),
		CreatedAt: now,
		UpdatedAt: now,
	}
	data.Agents = append(data.Agents, p)
	if err := r.doc.Save(data); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// List returns the primary agent first, then the rest by creation time.
func (r *Registry) List() ([]Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, err
	}
	out := append([]Profile{}, data.Agents...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Primary != out[j].Primary {
			return out[i].Primary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Registry) Get(id string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return Profile{}, err
	}
	id = strings.TrimSpace(id)
	for _, p := range data.Agents {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Resolve maps an agent selector to a profile. An empty selector picks the
// primary agent.
func (r *Registry) Resolve(selector string) (Profile, error) {
	if strings.TrimSpace(selector) != "" {
		return r.Get(selector)
	}
	list, err := r.List()
	if err != nil {
		return Profile{}, err
	}
	if len(list) == 0 || !list[0].Primary {
		return Profile{}, fmt.Errorf("%w: no primary agent", ErrNotFound)
	}
	return list[0], nil
}

// Slug lowercases s and collapses runs of other characters into dashes.
func Slug(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "agent"
	}
	return slug
}
