package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/llm"
)

// ExecutorFunc performs the actual tool work. Params arrive already
// validated against the tool's schema.
type ExecutorFunc func(ctx context.Context, params map[string]any) (any, error)

// Definition is one registered tool.
type Definition struct {
	Name        string
	Description string
	Schema      *Schema
	Execute     ExecutorFunc
	Provider    string // upstream provider label for rate-limit coordination
}

// Registry holds the tool catalog. Registration is append-only: tools are
// registered at startup and never replaced or removed.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds a tool. Fails on an empty name, a nil executor, or a
// duplicate name.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return apperrors.New(apperrors.CodeConfiguration, "tool registration requires a name")
	}
	if def.Execute == nil {
		return apperrors.Newf(apperrors.CodeConfiguration, "tool %q registration requires an executor", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return apperrors.Newf(apperrors.CodeConfiguration, "tool %q is already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns the registered tool names, sorted.
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

// Catalog renders the registry as provider tool declarations, in sorted
// name order so prompts are deterministic.
func (r *Registry) Catalog() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		def := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Schema.JSONSchema(),
		})
	}
	return defs
}
