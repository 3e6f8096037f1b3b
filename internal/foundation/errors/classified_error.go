package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ClassifiedError is an error with a category, a severity, a retry hint and
// structured context. Build one with the ErrorBuilder helpers.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.category, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.category, e.message)
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Cause() error                 { return e.cause }
func (e *ClassifiedError) Context() ErrorContext        { return e.context }

// Message returns the message without category or cause; it is what error
// frames and HTTP payloads show.
func (e *ClassifiedError) Message() string { return e.message }

// CanRetry reports whether repeating the operation may succeed.
func (e *ClassifiedError) CanRetry() bool { return e.retry == RetryBackoff }

// IsCategory checks if the error belongs to a specific category.
func (e *ClassifiedError) IsCategory(category ErrorCategory) bool {
	return e.category == category
}

// AsClassified finds the first ClassifiedError in the chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// HasCategory checks if any error in the chain belongs to a category.
func HasCategory(err error, category ErrorCategory) bool {
	classified, ok := AsClassified(err)
	return ok && classified.IsCategory(category)
}

// CategoryOf returns the category of err, or CategoryInternal for
// unclassified errors.
func CategoryOf(err error) ErrorCategory {
	if classified, ok := AsClassified(err); ok {
		return classified.category
	}
	return CategoryInternal
}

// IsCanceled reports whether err is an expected cancellation. Cancellation
// is not a failure and carries no category.
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled)
}

// UserMessage is the text shown to end users for err: the classified
// message, or err.Error() for anything else.
func UserMessage(err error) string {
	if classified, ok := AsClassified(err); ok {
		return classified.message
	}
	return err.Error()
}
