package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncFrameReceived("state")
	r.AddFramesApplied(3)
	r.AddFramesMerged(2)
	r.AddFramesDropped(1)
	r.SetQueueLength(4)
	r.ObserveFlushDuration(time.Millisecond, false)
	r.ObserveTransition("counter", time.Second, OutcomeSuccess)
	r.IncFrameEmitted("counter", "state")
	r.IncValidationFailure("counter")
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Fatalf("expected NoopRecorder for nil input")
	}
	pr := NewPrometheusRecorder(nil)
	if OrNoop(pr) != Recorder(pr) {
		t.Fatalf("expected recorder to pass through")
	}
}
