package codec

import (
	"strings"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
)

// Parser reassembles frames from arbitrarily sized text chunks. It keeps the
// trailing incomplete line between calls. A Parser is not safe for
// concurrent use.
type Parser struct {
	buf  strings.Builder
	line int
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Push appends chunk to the buffer and returns every frame completed by it.
// A malformed line is a hard failure: the frames decoded before it are
// returned together with a *LineError.
func (p *Parser) Push(chunk string) ([]frame.Frame, error) {
	if !strings.Contains(chunk, "\n") {
		p.buf.WriteString(chunk)
		return nil, nil
	}

	p.buf.WriteString(chunk)
	pending := p.buf.String()
	p.buf.Reset()

	segments := strings.Split(pending, "\n")
	tail := segments[len(segments)-1]
	p.buf.WriteString(tail)

	var frames []frame.Frame
	for _, segment := range segments[:len(segments)-1] {
		p.line++
		f, ok, err := parseLine(segment)
		if err != nil {
			return frames, &LineError{Line: p.line, Err: err}
		}
		if ok {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

// Flush decodes whatever remains in the buffer and clears it.
func (p *Parser) Flush() ([]frame.Frame, error) {
	rest := p.buf.String()
	p.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil, nil
	}
	p.line++
	f, ok, err := parseLine(rest)
	if err != nil {
		return nil, &LineError{Line: p.line, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return []frame.Frame{f}, nil
}

// Buffered reports the number of bytes held for the next line.
func (p *Parser) Buffered() int {
	return p.buf.Len()
}
