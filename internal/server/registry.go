package server

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
)

// Handler runs one transition. params is the decoded JSON request body; all
// output goes through em. Returning nil ends the stream with a done frame
// unless one was already emitted; returning an error ends it with an error
// frame.
type Handler interface {
	Serve(ctx context.Context, params map[string]any, em *Emitter) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]any, em *Emitter) error

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, params map[string]any, em *Emitter) error {
	return f(ctx, params, em)
}

// remote is implemented by handlers that forward to another process.
type remote interface {
	Remote() bool
}

var transitionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidName reports whether name can be used as a transition name. Names
// end up in URL paths and NATS subjects, so wildcards and separators are
// excluded.
func ValidName(name string) bool {
	return transitionName.MatchString(name)
}

// Registry maps transition names to handlers. Handlers are registered
// while the server is being assembled; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds h under name.
func (r *Registry) Register(name string, h Handler) error {
	if !ValidName(name) {
		return fmt.Errorf("register transition %q: invalid name", name)
	}
	if h == nil {
		return fmt.Errorf("register transition %q: nil handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("register transition %q: already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(name string, h Handler) *Registry {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
	return r
}

// HandleFunc registers a function handler.
func (r *Registry) HandleFunc(name string, fn func(ctx context.Context, params map[string]any, em *Emitter) error) error {
	return r.Register(name, HandlerFunc(fn))
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRemote reports whether the named handler forwards to another process.
func (r *Registry) IsRemote(name string) bool {
	h, ok := r.Lookup(name)
	if !ok {
		return false
	}
	rh, ok := h.(remote)
	return ok && rh.Remote()
}
