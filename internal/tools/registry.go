package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqui-labs/loqui/internal/llm"
)

// ErrNotFound is returned when a requested tool is not in the catalog.
var ErrNotFound = errors.New("tool not found")

// Registry is the static tool catalog, built once at startup and
// read-only afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the catalog from the given dependencies. Tools
// whose optional dependency is missing are left out.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{tools: make(map[string]Tool)}

	r.register("weather", &Weather{deps: deps})
	r.register("geocode", &Geocode{deps: deps})
	r.register("dice", &Dice{})
	r.register("websearch", &Websearch{deps: deps})
	r.register("webrequest", &Webrequest{deps: deps})
	r.register("datetime", &Datetime{})
	if deps.Describer != nil {
		r.register("imagedescription", &ImageDescription{describer: deps.Describer})
	}
	if deps.Rooms != nil {
		r.register("newroom", &NewRoom{rooms: deps.Rooms})
	}

	return r
}

func (r *Registry) register(name string, t Tool) {
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog as advertised to the provider, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Run executes the named tool. Unknown names return ErrNotFound.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any, call Context) (Outcome, error) {
	t, ok := r.tools[name]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t.Execute(ctx, args, call)
}
