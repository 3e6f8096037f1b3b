package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesClassifiedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(cause, CategoryTransport, "transition request failed").
		Warning().
		Retryable().
		WithContext("transition", "counter").
		WithContext("status", 502).
		Build()

	assert.Equal(t, CategoryTransport, err.Category())
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.True(t, err.CanRetry())
	assert.Equal(t, "transition request failed", err.Message())
	assert.Equal(t, "transport: transition request failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	v, ok := err.Context().Get("status")
	require.True(t, ok)
	assert.Equal(t, 502, v)
}

func TestBuilderReuseDoesNotAlias(t *testing.T) {
	b := ValidationError("bad params").WithContext("field", "by")
	first := b.Build()
	b.WithContext("field", "prompt")
	second := b.Build()

	v, _ := first.Context().Get("field")
	assert.Equal(t, "by", v)
	v, _ = second.Context().Get("field")
	assert.Equal(t, "prompt", v)
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name     string
		builder  *ErrorBuilder
		category ErrorCategory
		severity ErrorSeverity
		retry    bool
	}{
		{"ConfigError", ConfigError("x"), CategoryConfig, SeverityFatal, false},
		{"ValidationError", ValidationError("x"), CategoryValidation, SeverityError, false},
		{"NotFoundError", NotFoundError("x"), CategoryNotFound, SeverityError, false},
		{"ProtocolError", ProtocolError("x"), CategoryProtocol, SeverityError, false},
		{"TransportError", TransportError("x"), CategoryTransport, SeverityError, true},
		{"DecodeError", DecodeError("x"), CategoryDecode, SeverityError, false},
		{"ApplicationError", ApplicationError("x"), CategoryApplication, SeverityError, false},
		{"RuntimeError", RuntimeError("x"), CategoryRuntime, SeverityFatal, false},
		{"InternalError", InternalError("x"), CategoryInternal, SeverityFatal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder.Build()
			assert.Equal(t, tt.category, err.Category())
			assert.Equal(t, tt.severity, err.Severity())
			assert.Equal(t, tt.retry, err.CanRetry())
		})
	}
}

func TestChainHelpers(t *testing.T) {
	inner := DecodeError("line 3: unexpected end of JSON input").Build()
	wrapped := fmt.Errorf("stream: %w", inner)

	assert.True(t, HasCategory(wrapped, CategoryDecode))
	assert.False(t, HasCategory(wrapped, CategoryTransport))
	assert.Equal(t, CategoryDecode, CategoryOf(wrapped))
	assert.Equal(t, CategoryInternal, CategoryOf(errors.New("plain")))
	assert.Equal(t, "line 3: unexpected end of JSON input", UserMessage(wrapped))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))

	found, ok := AsClassified(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, found)
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(fmt.Errorf("transition: %w", context.Canceled)))
	assert.False(t, IsCanceled(context.DeadlineExceeded))
	assert.False(t, IsCanceled(nil))
}
