package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
)

func newFormats() *Normalizer[format] {
	return NewNormalizer("log format", map[string]format{
		"text": formatText,
		"JSON": formatJSON,
	}, formatText)
}

func TestNormalize(t *testing.T) {
	n := newFormats()
	tests := []struct {
		input string
		want  format
	}{
		{"text", formatText},
		{"  Json ", formatJSON},
		{"JSON", formatJSON},
		{"", formatText},
		{"yaml", formatText},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.input))
		})
	}
}

func TestNormalizeWithError(t *testing.T) {
	n := newFormats()

	got, err := n.NormalizeWithError(" JSON")
	require.NoError(t, err)
	assert.Equal(t, formatJSON, got)

	got, err = n.NormalizeWithError("")
	require.NoError(t, err)
	assert.Equal(t, formatText, got)

	_, err = n.NormalizeWithError("yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid log format "yaml"`)
	assert.Contains(t, err.Error(), "json, text")
}

func TestValidKeysIsCopy(t *testing.T) {
	n := newFormats()
	keys := n.ValidKeys()
	assert.Equal(t, []string{"json", "text"}, keys)
	keys[0] = "mutated"
	assert.Equal(t, []string{"json", "text"}, n.ValidKeys())
}
