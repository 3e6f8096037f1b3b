// Package frame defines the state wire protocol: the three frame variants,
// their JSON encoding, structural validation and the merge function that
// folds a state frame into the active state map.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type is the discriminator carried in the "type" field of every frame.
type Type string

const (
	TypeState Type = "state"
	TypeError Type = "error"
	TypeDone  Type = "done"
)

// Frame is one unit of the wire protocol. The concrete types are *State,
// *Error and *Done; consumers switch on them exhaustively.
type Frame interface {
	Type() Type
	isFrame()
}

// State carries anchor data. Full defaults to true when nil; a partial frame
// is only ever selected by an explicit false.
type State struct {
	States     map[string]any
	Full       *bool
	Accumulate bool
	Changed    []string
	Removed    []string
}

// Error reports a failure. When Template names an anchor the runtime renders
// Data (or {"message": Message}) into it.
type Error struct {
	Message  string
	Template string
	Data     any
}

// Done terminates a transition's stream.
type Done struct{}

func (*State) Type() Type { return TypeState }
func (*Error) Type() Type { return TypeError }
func (*Done) Type() Type  { return TypeDone }

func (*State) isFrame() {}
func (*Error) isFrame() {}
func (*Done) isFrame()  {}

// IsFull reports whether the frame replaces all active state.
func (s *State) IsFull() bool {
	return !s.Accumulate && (s.Full == nil || *s.Full)
}

// IsPartial reports whether the frame is a non-accumulating partial frame.
func (s *State) IsPartial() bool {
	return !s.Accumulate && s.Full != nil && !*s.Full
}

// Bool returns a pointer to b, for building State.Full literals.
func Bool(b bool) *bool { return &b }

// NewFull builds a full-replacement frame.
func NewFull(states map[string]any) *State {
	return &State{States: states}
}

// NewPartial builds a partial frame. Changed defaults to the keys of states.
func NewPartial(states map[string]any, changed, removed []string) *State {
	if states == nil {
		states = map[string]any{}
	}
	if changed == nil && len(states) > 0 {
		changed = Keys(states)
	}
	return &State{States: states, Full: Bool(false), Changed: changed, Removed: removed}
}

// NewAccumulate builds an accumulate frame.
func NewAccumulate(states map[string]any) *State {
	if states == nil {
		states = map[string]any{}
	}
	return &State{States: states, Accumulate: true}
}

type stateWire struct {
	Type       Type           `json:"type"`
	States     map[string]any `json:"states"`
	Full       *bool          `json:"full,omitempty"`
	Accumulate bool           `json:"accumulate,omitempty"`
	Changed    *[]string      `json:"changed,omitempty"`
	Removed    []string       `json:"removed,omitempty"`
}

type errorWire struct {
	Type     Type   `json:"type"`
	Message  string `json:"message,omitempty"`
	Template string `json:"template,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	states := s.States
	if states == nil {
		states = map[string]any{}
	}
	return json.Marshal(stateWire{
		Type:       TypeState,
		States:     states,
		Full:       s.Full,
		Accumulate: s.Accumulate,
		Changed:    presentList(s.Changed),
		Removed:    s.Removed,
	})
}

// presentList keeps an explicit empty list on the wire; only nil is omitted.
func presentList(list []string) *[]string {
	if list == nil {
		return nil
	}
	return &list
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Message: e.Message, Template: e.Template, Data: e.Data})
}

// MarshalJSON implements json.Marshaler.
func (*Done) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"done"}`), nil
}

// Parse decodes one JSON document into a Frame. Malformed JSON yields a
// *json.SyntaxError (or similar); structurally wrong documents yield a
// *ValidationError naming the problem. Parse does not apply the state-frame
// invariants; call Validate for that.
func Parse(data []byte) (Frame, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		var probe any
		if perr := json.Unmarshal(data, &probe); perr != nil {
			return nil, perr
		}
		return nil, invalid("frame must be a JSON object")
	}
	if envelope == nil {
		return nil, invalid("frame must be a JSON object")
	}

	var typ Type
	raw, ok := envelope["type"]
	if !ok {
		return nil, invalid("frame is missing \"type\"")
	}
	if err := json.Unmarshal(raw, &typ); err != nil {
		return nil, invalid("frame \"type\" must be a string")
	}

	switch typ {
	case TypeState:
		return parseState(envelope)
	case TypeError:
		return parseError(envelope)
	case TypeDone:
		return &Done{}, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown frame type %q", typ))
	}
}

func parseState(envelope map[string]json.RawMessage) (*State, error) {
	rawStates, ok := envelope["states"]
	if !ok || isNull(rawStates) {
		return nil, invalid("state frame requires \"states\" object")
	}
	var states map[string]any
	if err := json.Unmarshal(rawStates, &states); err != nil || states == nil {
		return nil, invalid("state frame \"states\" must be an object")
	}

	s := &State{States: states}
	if raw, ok := envelope["full"]; ok && !isNull(raw) {
		var full bool
		if err := json.Unmarshal(raw, &full); err != nil {
			return nil, invalid("state frame \"full\" must be a boolean")
		}
		s.Full = &full
	}
	if raw, ok := envelope["accumulate"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &s.Accumulate); err != nil {
			return nil, invalid("state frame \"accumulate\" must be a boolean")
		}
	}
	if raw, ok := envelope["changed"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &s.Changed); err != nil {
			return nil, invalid("state frame \"changed\" must be an array of strings")
		}
		if s.Changed == nil {
			s.Changed = []string{}
		}
	}
	if raw, ok := envelope["removed"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &s.Removed); err != nil {
			return nil, invalid("state frame \"removed\" must be an array of strings")
		}
	}
	return s, nil
}

func parseError(envelope map[string]json.RawMessage) (*Error, error) {
	e := &Error{}
	if raw, ok := envelope["message"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &e.Message); err != nil {
			return nil, invalid("error frame \"message\" must be a string")
		}
	}
	if raw, ok := envelope["template"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &e.Template); err != nil {
			return nil, invalid("error frame \"template\" must be a string")
		}
	}
	if raw, ok := envelope["data"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &e.Data); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
