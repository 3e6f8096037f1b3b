// Package codec implements the newline-delimited JSON framing used on the
// transition stream: one encoded frame per line, terminated by "\n".
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
)

// ContentType is the media type of an encoded frame stream.
const ContentType = "application/x-ndjson"

// HeaderTransitionID carries the client-generated transition id on the
// request and is echoed on the response.
const HeaderTransitionID = "X-Transition-ID"

// Encode renders f as a single line of JSON followed by "\n".
func Encode(f frame.Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type(), err)
	}
	return append(data, '\n'), nil
}

// Decode splits a complete stream into frames, skipping blank lines.
func Decode(text string) ([]frame.Frame, error) {
	var frames []frame.Frame
	for i, line := range strings.Split(text, "\n") {
		f, ok, err := parseLine(line)
		if err != nil {
			return frames, &LineError{Line: i + 1, Err: err}
		}
		if ok {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

// LineError reports a line that could not be decoded into a frame.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

func parseLine(line string) (frame.Frame, bool, error) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, false, nil
	}
	f, err := frame.Parse([]byte(line))
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}
