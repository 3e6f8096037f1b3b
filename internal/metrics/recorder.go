package metrics

import "time"

// Outcome enumerates how a transition ended, from the client's point of view.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeTransport Outcome = "transport_error"
	OutcomeDecode    Outcome = "decode_error"
)

// Recorder defines the metrics hooks. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IncFrameReceived(frameType string)
	AddFramesApplied(n int)
	AddFramesMerged(n int)
	AddFramesDropped(n int)
	SetQueueLength(n int)
	ObserveFlushDuration(d time.Duration, drainAll bool)
	ObserveTransition(name string, d time.Duration, outcome Outcome)
	IncFrameEmitted(transition, frameType string)
	IncValidationFailure(transition string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncFrameReceived(string)                         {}
func (NoopRecorder) AddFramesApplied(int)                            {}
func (NoopRecorder) AddFramesMerged(int)                             {}
func (NoopRecorder) AddFramesDropped(int)                            {}
func (NoopRecorder) SetQueueLength(int)                              {}
func (NoopRecorder) ObserveFlushDuration(time.Duration, bool)        {}
func (NoopRecorder) ObserveTransition(string, time.Duration, Outcome) {}
func (NoopRecorder) IncFrameEmitted(string, string)                  {}
func (NoopRecorder) IncValidationFailure(string)                     {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
