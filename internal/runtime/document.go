package runtime

import "git.home.luguber.info/inful/anchorstream/internal/dom"

// documentSource adapts a parsed HTML document to AnchorSource.
type documentSource struct {
	doc *dom.Document
}

// DocumentSource returns an AnchorSource backed by doc.
func DocumentSource(doc *dom.Document) AnchorSource {
	return documentSource{doc: doc}
}

func (s documentSource) Anchors() map[string]Element {
	found := s.doc.Anchors()
	out := make(map[string]Element, len(found))
	for name, el := range found {
		out[name] = el
	}
	return out
}
