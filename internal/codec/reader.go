package codec

import (
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
)

const defaultChunkSize = 32 * 1024

// ErrStop may be returned from an Each callback to end iteration early
// without reporting an error.
var ErrStop = errors.New("codec: stop")

// Reader decodes frames from a byte stream. Bytes pass through a UTF-8
// decoder first, so a multi-byte character split across two reads reaches
// the line parser whole; a leading BOM is dropped.
type Reader struct {
	src    io.Reader
	parser *Parser
	buf    []byte
	done   bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src:    transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())),
		parser: NewParser(),
		buf:    make([]byte, defaultChunkSize),
	}
}

// Next reads one chunk and returns the frames it completed. At end of input
// the remaining buffer is flushed and io.EOF is returned alongside any final
// frames.
func (r *Reader) Next() ([]frame.Frame, error) {
	if r.done {
		return nil, io.EOF
	}
	n, err := r.src.Read(r.buf)
	var frames []frame.Frame
	if n > 0 {
		var perr error
		frames, perr = r.parser.Push(string(r.buf[:n]))
		if perr != nil {
			r.done = true
			return frames, perr
		}
	}
	if err == nil {
		return frames, nil
	}
	r.done = true
	if !errors.Is(err, io.EOF) {
		return frames, err
	}
	rest, ferr := r.parser.Flush()
	frames = append(frames, rest...)
	if ferr != nil {
		return frames, ferr
	}
	return frames, io.EOF
}

// Each calls fn for every frame until the stream ends, fn returns an error,
// or decoding fails. A clean end of stream and ErrStop both yield nil.
func (r *Reader) Each(fn func(frame.Frame) error) error {
	for {
		frames, err := r.Next()
		for _, f := range frames {
			if ferr := fn(f); ferr != nil {
				if errors.Is(ferr, ErrStop) {
					return nil
				}
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
