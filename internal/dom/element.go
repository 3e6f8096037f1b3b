package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Element is one anchor mount point inside a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Name returns the anchor name.
func (e *Element) Name() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	name, _ := attr(e.node, AnchorAttr)
	return name
}

// SetAttr sets (or replaces) an attribute.
func (e *Element) SetAttr(key, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for i := range e.node.Attr {
		if e.node.Attr[i].Namespace == "" && e.node.Attr[i].Key == key {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: key, Val: value})
}

// RemoveAttr deletes an attribute if present.
func (e *Element) RemoveAttr(key string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	kept := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	e.node.Attr = kept
}

// Attr reads an attribute.
func (e *Element) Attr(key string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, key)
}

// Clear removes every child node.
func (e *Element) Clear() {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	clearChildren(e.node)
}

// SetHTML replaces the element content with the parsed fragment.
func (e *Element) SetHTML(fragment string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	nodes, err := html.ParseFragment(strings.NewReader(fragment), e.contextNode())
	if err != nil {
		return fmt.Errorf("parse fragment for anchor: %w", err)
	}
	clearChildren(e.node)
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

// HTML serialises the element content.
func (e *Element) HTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var buf bytes.Buffer
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

// contextNode returns a detached copy of the element usable as the
// ParseFragment context (ParseFragment only reads its tag and namespace).
func (e *Element) contextNode() *html.Node {
	return &html.Node{
		Type:      html.ElementNode,
		Data:      e.node.Data,
		DataAtom:  e.node.DataAtom,
		Namespace: e.node.Namespace,
	}
}

func clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
