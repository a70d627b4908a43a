package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Tool is the polymorphic execution contract shared by built-in and remote
// tools. Execute receives the parsed argument object and returns the result
// payload as JSON text.
type Tool interface {
	// Name returns the unique tool identifier presented to the provider.
	Name() string

	// Description explains the tool for the provider's function listing.
	Description() string

	// Schema returns the JSON Schema describing the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Implementations honor ctx cancellation;
	// remote tools carry their own network timeouts on top of it.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry is the tool catalog, indexed by name. Registration happens at
// startup and occasionally at runtime for remote tools; lookup happens on
// every dispatched call, so reads take the shared lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry ready for registration.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool by its name, replacing any existing tool with the
// same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name, for stable provider
// function listings.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}
