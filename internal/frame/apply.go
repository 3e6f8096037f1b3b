package frame

import (
	"maps"
	"slices"
)

// Apply folds a state frame into active and returns the next state map.
// active is never modified.
//
//   - accumulate: each slot in s.States is merged field by field into the
//     existing slot (arrays and strings concatenate, anything else replaces)
//   - full: the result is a copy of s.States
//   - partial: s.States is merged over active, then s.Removed is deleted
func Apply(active map[string]any, s *State) map[string]any {
	switch {
	case s.Accumulate:
		next := maps.Clone(active)
		if next == nil {
			next = make(map[string]any, len(s.States))
		}
		for key, incoming := range s.States {
			existing, ok := next[key]
			if !ok {
				next[key] = incoming
				continue
			}
			next[key] = accumulateSlot(existing, incoming)
		}
		return next
	case s.IsFull():
		next := make(map[string]any, len(s.States))
		maps.Copy(next, s.States)
		return next
	default:
		next := make(map[string]any, len(active)+len(s.States))
		maps.Copy(next, active)
		maps.Copy(next, s.States)
		for _, key := range s.Removed {
			delete(next, key)
		}
		return next
	}
}

func accumulateSlot(existing, incoming any) any {
	prev, okPrev := existing.(map[string]any)
	add, okAdd := incoming.(map[string]any)
	if !okPrev || !okAdd {
		return accumulateValue(existing, incoming)
	}
	merged := maps.Clone(prev)
	for field, value := range add {
		if current, ok := merged[field]; ok {
			merged[field] = accumulateValue(current, value)
			continue
		}
		merged[field] = value
	}
	return merged
}

func accumulateValue(existing, incoming any) any {
	switch prev := existing.(type) {
	case []any:
		if add, ok := incoming.([]any); ok {
			out := make([]any, 0, len(prev)+len(add))
			out = append(out, prev...)
			return append(out, add...)
		}
	case string:
		if add, ok := incoming.(string); ok {
			return prev + add
		}
	}
	return incoming
}

// Keys returns the keys of states in sorted order.
func Keys(states map[string]any) []string {
	return slices.Sorted(maps.Keys(states))
}

// Clone returns a deep copy of a state map. Only JSON-shaped values (maps,
// slices, scalars) are copied structurally.
func Clone(states map[string]any) map[string]any {
	if states == nil {
		return nil
	}
	out := make(map[string]any, len(states))
	for k, v := range states {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
