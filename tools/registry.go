package tools

import (
	"fmt"
	"strings"
)

// Registry maps tool names to implementations
type Registry struct {
	tools map[Name]Tool
	order []Name
}

// NewRegistry returns a registry holding the given tools. Registering a
// name outside the fixed set, or the same name twice, is an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, tool := range tools {
		if err := r.register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(tool Tool) error {
	name := tool.Name()
	if !isKnown(name) {
		return fmt.Errorf("unknown tool name %q", name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q registered twice", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under the given name
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[Name(name)]
	return tool, ok
}

// Names returns the registered names in registration order
func (r *Registry) Names() []Name {
	out := make([]Name, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	return len(r.tools)
}

// Describe renders a numbered list of the registered tools for prompts
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, name := range r.order {
		fmt.Fprintf(&b, "%d. `%s`: %s\n", i+1, name, r.tools[name].Description())
	}
	return b.String()
}

func isKnown(name Name) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}
