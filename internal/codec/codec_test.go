package codec

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/anchorstream/internal/frame"
)

func sampleFrames() []frame.Frame {
	return []frame.Frame{
		frame.NewFull(map[string]any{"greeting": map[string]any{"text": "héllo wörld ✓ 😀"}}),
		frame.NewPartial(map[string]any{"count": map[string]any{"v": float64(2)}}, nil, []string{"old"}),
		frame.NewAccumulate(map[string]any{"chat": map[string]any{"text": "日本語"}}),
		&frame.Error{Message: "nope", Template: "err", Data: map[string]any{"code": float64(7)}},
		&frame.Done{},
	}
}

func encodeAll(t *testing.T, frames []frame.Frame) string {
	t.Helper()
	var sb strings.Builder
	for _, f := range frames {
		line, err := Encode(f)
		require.NoError(t, err)
		sb.Write(line)
	}
	return sb.String()
}

func TestEncodeIsOneLine(t *testing.T) {
	line, err := Encode(frame.NewFull(map[string]any{"a": "multi\nline"}))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(line, []byte("\n")))
	assert.True(t, bytes.HasSuffix(line, []byte("\n")))
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	text := "\n\n" + `{"type":"done"}` + "\n\n\n" + `{"type":"state","states":{}}` + "\n"
	frames, err := Decode(text)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, frame.TypeDone, frames[0].Type())
	assert.Equal(t, frame.TypeState, frames[1].Type())
}

func TestDecodeMalformedLine(t *testing.T) {
	_, err := Decode(`{"type":"done"}` + "\n" + `{"type":` + "\n")
	require.Error(t, err)
	var le *LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
}

func TestParserChunkingEquivalence(t *testing.T) {
	want := sampleFrames()
	stream := encodeAll(t, want)
	wantTypes := typesOf(want)

	for size := 1; size <= len(stream); size++ {
		p := NewParser()
		var got []frame.Frame
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			frames, err := p.Push(stream[start:end])
			require.NoError(t, err, "chunk size %d", size)
			got = append(got, frames...)
		}
		rest, err := p.Flush()
		require.NoError(t, err)
		got = append(got, rest...)
		require.Equal(t, wantTypes, typesOf(got), "chunk size %d", size)
		assert.Equal(t, encodeAll(t, want), encodeAll(t, got), "chunk size %d", size)
	}
}

func TestParserRandomChunks(t *testing.T) {
	want := sampleFrames()
	stream := encodeAll(t, want)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		p := NewParser()
		var got []frame.Frame
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(min(len(rest), 40))
			frames, err := p.Push(rest[:n])
			require.NoError(t, err)
			got = append(got, frames...)
			rest = rest[n:]
		}
		assert.Equal(t, stream, encodeAll(t, got))
	}
}

func TestParserHoldsIncompleteLine(t *testing.T) {
	p := NewParser()
	frames, err := p.Push(`{"type":"do`)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, len(`{"type":"do`), p.Buffered())

	frames, err = p.Push(`ne"}` + "\n" + `{"type":"done"}` + "\n")
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.Zero(t, p.Buffered())
}

func TestParserFlushWithoutTrailingNewline(t *testing.T) {
	p := NewParser()
	frames, err := p.Push(`{"type":"done"}`)
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = p.Flush()
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, frame.TypeDone, frames[0].Type())

	frames, err = p.Flush()
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestParserMalformedIsHardFailure(t *testing.T) {
	p := NewParser()
	frames, err := p.Push(`{"type":"done"}` + "\n" + `not json` + "\n")
	require.Error(t, err)
	assert.Len(t, frames, 1)

	p = NewParser()
	_, err = p.Push("{broken")
	require.NoError(t, err)
	_, err = p.Flush()
	require.Error(t, err)
}

func TestReaderSplitsMultiByteAcrossReads(t *testing.T) {
	want := sampleFrames()
	stream := encodeAll(t, want)

	r := NewReader(iotest.OneByteReader(strings.NewReader(stream)))
	var got []frame.Frame
	require.NoError(t, r.Each(func(f frame.Frame) error {
		got = append(got, f)
		return nil
	}))
	assert.Equal(t, stream, encodeAll(t, got))
}

func TestReaderDropsBOM(t *testing.T) {
	r := NewReader(strings.NewReader("\uFEFF" + `{"type":"done"}` + "\n"))
	frames, err := r.Next()
	for err == nil {
		var more []frame.Frame
		more, err = r.Next()
		frames = append(frames, more...)
	}
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 1)
	assert.Equal(t, frame.TypeDone, frames[0].Type())
}

func TestReaderStopAndErrors(t *testing.T) {
	stream := `{"type":"done"}` + "\n" + `{"type":"done"}` + "\n"
	count := 0
	err := NewReader(strings.NewReader(stream)).Each(func(frame.Frame) error {
		count++
		return ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	boom := errors.New("boom")
	err = NewReader(iotest.ErrReader(boom)).Each(func(frame.Frame) error { return nil })
	require.ErrorIs(t, err, boom)

	err = NewReader(strings.NewReader("garbage\n")).Each(func(frame.Frame) error { return nil })
	var le *LineError
	require.ErrorAs(t, err, &le)
}

func typesOf(frames []frame.Frame) []frame.Type {
	out := make([]frame.Type, len(frames))
	for i, f := range frames {
		out[i] = f.Type()
	}
	return out
}
