package tools

import (
	"context"
	"encoding/json"

	"github.com/user/datachat/pkg/llm"
)

// Tool defines the interface for an executable tool. Execute returns a
// JSON-marshalable payload; errors are converted by the caller into
// error-shaped payloads rather than aborting the conversation.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry holds registered tools and provides lookup. Tools registered as
// internal are dispatchable but never offered to the model.
type Registry struct {
	tools    map[string]Tool
	order    []string
	internal map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), internal: make(map[string]bool)}
}

// Register adds a model-invokable tool to the registry.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// RegisterInternal adds a tool that can be dispatched directly but is
// excluded from the schema set presented to the model.
func (r *Registry) RegisterInternal(t Tool) {
	r.Register(t)
	r.internal[t.Name()] = true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// AsLLMTools converts the model-facing tools to the LLM provider format,
// in registration order.
func (r *Registry) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		if r.internal[name] {
			continue
		}
		t := r.tools[name]
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
