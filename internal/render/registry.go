// Package render implements the renderer collaborator of the client
// runtime. Templates are registered on an explicit Registry at construction
// time; each template turns anchor data into a templ.Component.
package render

import (
	"fmt"
	"slices"
	"sync"

	"github.com/a-h/templ"
)

// Template builds the component for one anchor's data.
type Template func(data any) templ.Component

// Registry maps anchor names to templates. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: map[string]Template{}}
}

// Register adds a template. Registering a name twice is an error.
func (r *Registry) Register(name string, tmpl Template) error {
	if name == "" {
		return fmt.Errorf("register template: empty name")
	}
	if tmpl == nil {
		return fmt.Errorf("register template %q: nil template", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[name]; exists {
		return fmt.Errorf("register template %q: already registered", name)
	}
	r.templates[name] = tmpl
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(name string, tmpl Template) *Registry {
	if err := r.Register(name, tmpl); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the template registered under name.
func (r *Registry) Lookup(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[name]
	return tmpl, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
