package frame

import (
	"errors"
	"fmt"
)

// ValidationError explains why a frame is not legal on the wire. Reason is
// surfaced verbatim in the error frame that replaces it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid frame: " + e.Reason
}

func invalid(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

// IsValidationError reports whether err (or anything it wraps) is a
// *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the structural rules a frame must satisfy before it enters
// the pipeline. It returns nil or a *ValidationError.
func Validate(f Frame) error {
	switch v := f.(type) {
	case nil:
		return invalid("frame is nil")
	case *State:
		if v == nil {
			return invalid("state frame is nil")
		}
		return validateState(v)
	case *Error:
		if v == nil {
			return invalid("error frame is nil")
		}
		return nil
	case *Done:
		return nil
	default:
		return invalid(fmt.Sprintf("unsupported frame %T", f))
	}
}

// ValidateJSON parses and validates a single encoded frame.
func ValidateJSON(data []byte) (Frame, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

func validateState(s *State) error {
	if s.States == nil {
		return invalid("state frame requires \"states\" object")
	}
	if s.Accumulate {
		if len(s.Removed) > 0 {
			return invalid("accumulate frame must not carry \"removed\"")
		}
		return nil
	}
	if s.Full == nil || *s.Full {
		return nil
	}

	if len(s.Changed) == 0 && len(s.Removed) == 0 {
		return invalid("partial frame requires \"changed\" or \"removed\"")
	}
	changed := make(map[string]struct{}, len(s.Changed))
	for _, key := range s.Changed {
		if _, ok := s.States[key]; !ok {
			return invalid(fmt.Sprintf("changed key %q is missing from states", key))
		}
		changed[key] = struct{}{}
	}
	for _, key := range s.Removed {
		if _, ok := s.States[key]; ok {
			return invalid(fmt.Sprintf("removed key %q must not be present in states", key))
		}
		if _, ok := changed[key]; ok {
			return invalid(fmt.Sprintf("key %q is both changed and removed", key))
		}
	}
	return nil
}
