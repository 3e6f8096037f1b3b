package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	File string `arg:"" optional:"" help:"NDJSON stream to check, or - for stdin" default:"-"`
}

func (v *ValidateCmd) Run(g *Global, _ *CLI) error {
	in := io.Reader(os.Stdin)
	if v.File != "-" {
		f, err := os.Open(v.File)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryNotFound, "failed to open stream").
				WithContext("path", v.File).
				Build()
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	return ValidateStream(in, g.out())
}

// ValidateStream decodes every line of r and checks each frame against the
// wire rules. Problems are printed per line; the returned error summarizes
// them.
func ValidateStream(r io.Reader, out io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "failed to read stream").Build()
	}

	var problems, frames int
	counts := map[frame.Type]int{}
	for i, line := range strings.Split(string(data), "\n") {
		decoded, err := codec.Decode(line)
		if err != nil {
			problems++
			var le *codec.LineError
			if errors.As(err, &le) {
				err = le.Err
			}
			_, _ = fmt.Fprintf(out, "line %d: %v\n", i+1, err)
			continue
		}
		for _, f := range decoded {
			frames++
			counts[f.Type()]++
			if err := frame.Validate(f); err != nil {
				problems++
				_, _ = fmt.Fprintf(out, "line %d: %v\n", i+1, err)
			}
		}
	}

	_, _ = fmt.Fprintf(out, "%d frames (%d state, %d error, %d done), %d problems\n",
		frames, counts[frame.TypeState], counts[frame.TypeError], counts[frame.TypeDone], problems)
	if problems > 0 {
		return ferrors.NewError(ferrors.CategoryDecode, fmt.Sprintf("stream has %d invalid lines", problems)).Build()
	}
	return nil
}
