package runtime

// TraceKind classifies a diagnostic trace event.
type TraceKind string

const (
	TraceReceived TraceKind = "received"
	TraceApplied  TraceKind = "applied"
	TraceMerged   TraceKind = "merged"
	TraceDropped  TraceKind = "dropped"
	TraceError    TraceKind = "error"
	TraceDone     TraceKind = "done"
)

// TraceEvent is delivered to the optional trace hook. Detail keys depend on
// the kind: "count" for merged/dropped, "changed"/"removed" for applied,
// "message"/"template" for error.
type TraceEvent struct {
	Kind   TraceKind
	Detail map[string]any
}

// TraceFunc receives trace events. It is purely diagnostic and is invoked
// after the runtime lock is released, so it may call back into the runtime.
type TraceFunc func(TraceEvent)
