package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"

	"github.com/a-h/templ"
	"github.com/yuin/goldmark"
)

// HTML adapts a parsed html/template. The template is executed with the
// anchor data as dot.
func HTML(tmpl *template.Template) Template {
	return func(data any) templ.Component {
		return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			return tmpl.Execute(w, data)
		})
	}
}

// MustHTML parses text as an html/template named name.
func MustHTML(name, text string) Template {
	return HTML(template.Must(template.New(name).Parse(text)))
}

// Markdown renders one string field of the anchor data as Markdown. With
// goldmark's default renderer raw HTML in the source is dropped and replaced
// by an "<!-- raw HTML omitted -->" comment.
func Markdown(md goldmark.Markdown, field string) Template {
	if md == nil {
		md = goldmark.New()
	}
	return func(data any) templ.Component {
		return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			source, err := markdownSource(data, field)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := md.Convert([]byte(source), &buf); err != nil {
				return fmt.Errorf("convert markdown: %w", err)
			}
			_, err = w.Write(buf.Bytes())
			return err
		})
	}
}

func markdownSource(data any, field string) (string, error) {
	if field == "" {
		if s, ok := data.(string); ok {
			return s, nil
		}
		return "", fmt.Errorf("markdown template expects a string, got %T", data)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return "", fmt.Errorf("markdown template expects an object, got %T", data)
	}
	switch v := m[field].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("markdown field %q must be a string, got %T", field, v)
	}
}

// Text renders data with fmt's %v verb, HTML-escaped.
func Text() Template {
	return func(data any) templ.Component {
		return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, template.HTMLEscapeString(fmt.Sprint(data)))
			return err
		})
	}
}
