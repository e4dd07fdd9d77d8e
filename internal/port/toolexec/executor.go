// Package toolexec defines the port for executing model-requested tools.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/ContextForge/internal/domain"
)

// Executor runs tools from one backing provider.
type Executor interface {
	// Name identifies the provider for logging and routing.
	Name() string
	// Tools lists the tool names this executor can run.
	Tools() []string
	// Execute runs one tool and returns its textual output.
	Execute(ctx context.Context, tool string, args json.RawMessage) (string, error)
}

// Registry routes tool calls to the executor that owns the tool.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	byTool    map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		byTool:    make(map[string]string),
	}
}

// Register adds an executor and claims its tools. A tool name already
// claimed by another executor is rejected.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[e.Name()]; ok {
		return fmt.Errorf("%w: executor %q already registered", domain.ErrConflict, e.Name())
	}
	for _, tool := range e.Tools() {
		if owner, ok := r.byTool[tool]; ok {
			return fmt.Errorf("%w: tool %q already owned by %q", domain.ErrConflict, tool, owner)
		}
	}
	r.executors[e.Name()] = e
	for _, tool := range e.Tools() {
		r.byTool[tool] = e.Name()
	}
	return nil
}

// Execute routes one call to the owning executor.
func (r *Registry) Execute(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	owner, ok := r.byTool[tool]
	var exec Executor
	if ok {
		exec = r.executors[owner]
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: tool %q", domain.ErrNotFound, tool)
	}
	return exec.Execute(ctx, tool, args)
}

// Tools lists all registered tool names, sorted.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTool))
	for tool := range r.byTool {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}
