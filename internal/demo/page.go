package demo

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/anchorstream/internal/dom"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/render"
)

//go:embed assets/page.html.tmpl
var assets embed.FS

var pageTemplate = template.Must(template.ParseFS(assets, "assets/page.html.tmpl"))

// Templates returns the registry with one template per demo anchor.
func Templates() *render.Registry {
	md := goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
	return render.NewRegistry().
		MustRegister(AnchorCount, render.MustHTML(AnchorCount,
			`<p>Count: <strong>{{.value}}</strong></p>`)).
		MustRegister(AnchorNotice, render.MustHTML(AnchorNotice,
			`<p class="notice">{{.text}}</p>`)).
		MustRegister(AnchorChat, render.Markdown(md, "text")).
		MustRegister(AnchorError, render.MustHTML(AnchorError,
			`<p class="error">{{.message}}{{with .code}} <small>({{.}})</small>{{end}}</p>`))
}

type pageAnchor struct {
	Name string
	HTML template.HTML
}

type pageData struct {
	Anchors   []pageAnchor
	BasePath  string
	Bootstrap template.HTML
}

// RenderPage renders the bootstrap page: every anchor present in snapshot is
// rendered server-side and the snapshot itself is embedded for hydration.
func RenderPage(ctx context.Context, r *render.Renderer, snapshot map[string]any, basePath string) ([]byte, error) {
	data := pageData{BasePath: basePath}
	for _, name := range Anchors {
		a := pageAnchor{Name: name}
		if value, ok := snapshot[name]; ok {
			html, err := r.RenderString(ctx, name, value)
			if err != nil {
				return nil, err
			}
			a.HTML = template.HTML(html) // #nosec G203 -- produced by registered templates
		}
		data.Anchors = append(data.Anchors, a)
	}
	script, err := dom.BootstrapScript(snapshot)
	if err != nil {
		return nil, err
	}
	data.Bootstrap = template.HTML(script) // #nosec G203 -- JSON with <, > and & escaped

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PageHandler serves the bootstrap page for app.
func PageHandler(app *App, r *render.Renderer, basePath string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		page, err := RenderPage(req.Context(), r, app.Snapshot(), basePath)
		if err != nil {
			logger.Error("Failed to render demo page", logfields.Error(err))
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(page)
	})
}
