// Package dom is a small document model over golang.org/x/net/html. It finds
// anchor elements, reads the embedded bootstrap snapshot and performs the
// handful of element mutations the client runtime needs.
package dom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// AnchorAttr names the attribute that marks an anchor element.
	AnchorAttr = "data-anchor"
	// BootstrapID is the id of the <script type="application/json"> element
	// holding the bootstrap snapshot.
	BootstrapID = "anchorstream-bootstrap"
)

// Document is a parsed HTML document. All element mutations go through the
// document lock, so a Document may be read (Render, Anchor.HTML) while a
// runtime mutates it from another goroutine.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Anchors scans the document for elements carrying AnchorAttr. When two
// elements share a name the first in document order wins.
func (d *Document) Anchors() map[string]*Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	anchors := make(map[string]*Element)
	walk(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if name, ok := attr(n, AnchorAttr); ok && name != "" {
			if _, seen := anchors[name]; !seen {
				anchors[name] = &Element{doc: d, node: n}
			}
		}
		return true
	})
	return anchors
}

// Bootstrap decodes the JSON snapshot embedded in the document. A document
// without a bootstrap element yields an empty map.
func (d *Document) Bootstrap() (map[string]any, error) {
	d.mu.Lock()
	var payload string
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			if id, _ := attr(n, "id"); id == BootstrapID {
				payload = textContent(n)
				return false
			}
		}
		return true
	})
	d.mu.Unlock()

	states := map[string]any{}
	if strings.TrimSpace(payload) == "" {
		return states, nil
	}
	if err := json.Unmarshal([]byte(payload), &states); err != nil {
		return nil, fmt.Errorf("decode bootstrap snapshot: %w", err)
	}
	if states == nil {
		states = map[string]any{}
	}
	return states, nil
}

// Render serialises the whole document.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String returns the serialised document.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// BootstrapScript returns the <script> element that embeds states into a page.
func BootstrapScript(states map[string]any) (string, error) {
	if states == nil {
		states = map[string]any{}
	}
	data, err := json.Marshal(states)
	if err != nil {
		return "", fmt.Errorf("encode bootstrap snapshot: %w", err)
	}
	// json.Marshal escapes <, > and & so the payload cannot close the script.
	return `<script type="application/json" id="` + BootstrapID + `">` + string(data) + `</script>`, nil
}

func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}
