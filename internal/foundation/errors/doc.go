// Package errors classifies anchorstream failures.
//
// A ClassifiedError carries an ErrorCategory (protocol, transport, decode and
// application failures of the transition pipeline, plus config, validation,
// not_found, runtime and internal), a severity, a retry hint and structured
// context. The HTTP adapter maps categories to status codes for requests that
// fail before a stream starts; the CLI adapter maps them to exit codes.
// Cancellation is not a category: check it with IsCanceled.
//
//	err := errors.TransportError("transition request failed").
//		WithCause(originalErr).
//		WithContext("status", resp.StatusCode).
//		Build()
package errors
