package errors

// ErrorCategory classifies where a failure came from. It drives HTTP status
// codes, CLI exit codes and the transition outcome recorded in metrics.
type ErrorCategory string

const (
	// CategoryConfig and CategoryValidation are caller mistakes.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// CategoryProtocol marks frames that fail structural validation.
	CategoryProtocol ErrorCategory = "protocol"
	// CategoryTransport covers network, HTTP status and NATS failures.
	CategoryTransport ErrorCategory = "transport"
	// CategoryDecode marks a response stream that is not valid NDJSON.
	CategoryDecode ErrorCategory = "decode"
	// CategoryApplication is an error a transition handler reported.
	CategoryApplication ErrorCategory = "application"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // stops the command
	SeverityError   ErrorSeverity = "error"   // fails the current transition
	SeverityWarning ErrorSeverity = "warning" // degraded, the stream continues
)

// RetryStrategy tells callers whether repeating the operation can help.
type RetryStrategy string

const (
	RetryNever   RetryStrategy = "never"
	RetryBackoff RetryStrategy = "backoff"
)

// ErrorContext carries structured fields (transition, anchor, line, ...)
// that adapters expose as details.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}
