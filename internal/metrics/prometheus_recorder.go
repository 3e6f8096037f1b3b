package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	framesReceived     *prom.CounterVec
	framesApplied      prom.Counter
	framesMerged       prom.Counter
	framesDropped      prom.Counter
	queueLength        prom.Gauge
	flushDuration      *prom.HistogramVec
	transitionDuration *prom.HistogramVec
	transitionOutcome  *prom.CounterVec
	framesEmitted      *prom.CounterVec
	validationFailures *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.framesReceived = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frames_received_total",
			Help:      "Frames handed to the client runtime, by frame type",
		}, []string{"type"})
		pr.framesApplied = prom.NewCounter(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frames_applied_total",
			Help:      "State frames applied to the active state (after coalescing)",
		})
		pr.framesMerged = prom.NewCounter(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frames_merged_total",
			Help:      "Partial frames folded into a coalesced apply",
		})
		pr.framesDropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frames_dropped_total",
			Help:      "Queued frames discarded by backpressure",
		})
		pr.queueLength = prom.NewGauge(prom.GaugeOpts{
			Namespace: "anchorstream",
			Name:      "queue_length",
			Help:      "Frames waiting in the client queue",
		})
		pr.flushDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "anchorstream",
			Name:      "flush_duration_seconds",
			Help:      "Duration of a flush cycle",
			Buckets:   []float64{.001, .004, .008, .016, .033, .066, .1, .25},
		}, []string{"mode"})
		pr.transitionDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "anchorstream",
			Name:      "transition_duration_seconds",
			Help:      "Client-observed transition duration",
			Buckets:   prom.DefBuckets,
		}, []string{"transition", "outcome"})
		pr.transitionOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "transitions_total",
			Help:      "Transitions by final outcome",
		}, []string{"transition", "outcome"})
		pr.framesEmitted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frames_emitted_total",
			Help:      "Frames written by the server, by transition and frame type",
		}, []string{"transition", "type"})
		pr.validationFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "anchorstream",
			Name:      "frame_validation_failures_total",
			Help:      "Frames rejected by validation before reaching the wire",
		}, []string{"transition"})
		reg.MustRegister(pr.framesReceived, pr.framesApplied, pr.framesMerged, pr.framesDropped,
			pr.queueLength, pr.flushDuration, pr.transitionDuration, pr.transitionOutcome,
			pr.framesEmitted, pr.validationFailures)
	})
	return pr
}

func (p *PrometheusRecorder) IncFrameReceived(frameType string) {
	if p == nil || p.framesReceived == nil {
		return
	}
	p.framesReceived.WithLabelValues(frameType).Inc()
}

func (p *PrometheusRecorder) AddFramesApplied(n int) {
	if p == nil || p.framesApplied == nil || n <= 0 {
		return
	}
	p.framesApplied.Add(float64(n))
}

func (p *PrometheusRecorder) AddFramesMerged(n int) {
	if p == nil || p.framesMerged == nil || n <= 0 {
		return
	}
	p.framesMerged.Add(float64(n))
}

func (p *PrometheusRecorder) AddFramesDropped(n int) {
	if p == nil || p.framesDropped == nil || n <= 0 {
		return
	}
	p.framesDropped.Add(float64(n))
}

func (p *PrometheusRecorder) SetQueueLength(n int) {
	if p == nil || p.queueLength == nil {
		return
	}
	p.queueLength.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveFlushDuration(d time.Duration, drainAll bool) {
	if p == nil || p.flushDuration == nil {
		return
	}
	mode := "budget"
	if drainAll {
		mode = "all"
	}
	p.flushDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveTransition(name string, d time.Duration, outcome Outcome) {
	if p == nil || p.transitionDuration == nil {
		return
	}
	p.transitionDuration.WithLabelValues(name, string(outcome)).Observe(d.Seconds())
	p.transitionOutcome.WithLabelValues(name, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncFrameEmitted(transition, frameType string) {
	if p == nil || p.framesEmitted == nil {
		return
	}
	p.framesEmitted.WithLabelValues(transition, frameType).Inc()
}

func (p *PrometheusRecorder) IncValidationFailure(transition string) {
	if p == nil || p.validationFailures == nil {
		return
	}
	p.validationFailures.WithLabelValues(transition).Inc()
}
