package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
)

// Renderer renders registered templates into anchor elements. It implements
// runtime.Renderer.
type Renderer struct {
	registry *Registry
	fallback Template
	logger   *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// WithFallback renders anchors that have no registered template.
func WithFallback(tmpl Template) Option {
	return func(r *Renderer) { r.fallback = tmpl }
}

// New creates a renderer over reg.
func New(reg *Registry, opts ...Option) *Renderer {
	r := &Renderer{registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ runtime.Renderer = (*Renderer)(nil)

func (r *Renderer) template(name string) (Template, error) {
	if tmpl, ok := r.registry.Lookup(name); ok {
		return tmpl, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, ferrors.NotFoundError("no template registered for anchor").
		WithContext("anchor", name).
		Build()
}

// RenderString renders the template for name to an HTML string.
func (r *Renderer) RenderString(ctx context.Context, name string, data any) (string, error) {
	tmpl, err := r.template(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl(data).Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return buf.String(), nil
}

// Render mounts fresh content into el.
func (r *Renderer) Render(name string, data any, el runtime.Element) error {
	return r.write(name, data, el)
}

// Hydrate adopts server-rendered content: the markup is kept as is, only
// the template is resolved so later updates can render.
func (r *Renderer) Hydrate(name string, _ any, _ runtime.Element) (func(), error) {
	if _, err := r.template(name); err != nil {
		return nil, err
	}
	r.logger.Debug("Anchor hydrated", logfields.Anchor(name))
	return func() {
		r.logger.Debug("Hydrated anchor disposed", logfields.Anchor(name))
	}, nil
}

// Update re-renders a live anchor in place.
func (r *Renderer) Update(name string, data any, el runtime.Element) error {
	return r.write(name, data, el)
}

// Unmount is called before the runtime clears the anchor.
func (r *Renderer) Unmount(name string, _ runtime.Element) {
	r.logger.Debug("Anchor unmounted", logfields.Anchor(name))
}

func (r *Renderer) write(name string, data any, el runtime.Element) error {
	html, err := r.RenderString(context.Background(), name, data)
	if err != nil {
		return err
	}
	return el.SetHTML(html)
}
