package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// Tool is the abstraction over everything the executor can invoke:
// trivial local handlers and HTTP proxies to sibling microservices alike.
type Tool interface {
	// Name returns the canonical tool name.
	Name() string
	// Description returns the human-readable description shown to models.
	Description() string
	// Schema returns the JSON-schema parameter spec.
	Schema() map[string]interface{}
	// Execute runs the tool. Handlers must not mutate session state;
	// they return data and the orchestrator decides how to splice it in.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool's raw outcome before the executor wraps it into an
// entity.ToolResult.
type Result struct {
	Output  string
	Success bool
	Error   string
}

// Registry holds the tool catalog.
type Registry interface {
	Register(tool Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []entity.ToolDefinition
	Has(name string) bool
}

// InMemoryRegistry is the process-wide tool catalog.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Tool),
	}
}

func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}

	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

func (r *InMemoryRegistry) List() []entity.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]entity.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, entity.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}
