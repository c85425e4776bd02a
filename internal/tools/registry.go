package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
)

// ErrUnknownTool is returned when no executor is registered under a name.
var ErrUnknownTool = errors.New("unknown tool")

// Registry manages tool executors by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool to the registry under its declared name.
func (r *Registry) Register(t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool with the input map and decodes its JSON result.
// A result that is not a JSON object is returned under the "output" key.
func (r *Registry) Execute(ctx context.Context, name string, inputs map[string]any) (map[string]any, error) {
	t, ok := r.Get(strings.TrimSpace(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if inputs == nil {
		inputs = map[string]any{}
	}
	args, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode %s inputs: %w", name, err)
	}

	out, err := t.InvokableRun(ctx, string(args))
	if err != nil {
		return nil, err
	}

	result := map[string]any{}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return map[string]any{"output": out}, nil
	}
	return result, nil
}
