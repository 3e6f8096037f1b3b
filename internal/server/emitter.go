package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
)

// ErrStreamClosed is returned by every Emitter call after the stream ended,
// either through done, a rejected frame or a handler failure.
var ErrStreamClosed = errors.New("server: stream closed")

// FrameSink delivers encoded frames to the client. WriteFrame must make the
// frame visible to the reader before returning (flush per frame).
type FrameSink interface {
	WriteFrame(ctx context.Context, f frame.Frame) error
}

// HTTPSink streams frames as NDJSON on an HTTP response.
type HTTPSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewHTTPSink wraps w. The response header must already be written.
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	s := &HTTPSink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// WriteFrame implements FrameSink.
func (s *HTTPSink) WriteFrame(_ context.Context, f frame.Frame) error {
	line, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Emitter is the handler-facing side of one transition stream. Every frame
// is validated and encoded before it is written; a frame that fails either
// step is replaced by an error frame carrying the reason and the stream ends.
type Emitter struct {
	sink       FrameSink
	transition string
	recorder   metrics.Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	closed  bool
	emitted int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterRecorder sets the metrics recorder.
func WithEmitterRecorder(r metrics.Recorder) EmitterOption {
	return func(e *Emitter) { e.recorder = metrics.OrNoop(r) }
}

// WithEmitterLogger sets the logger.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = logger }
}

// NewEmitter creates an emitter for the named transition writing to sink.
func NewEmitter(sink FrameSink, transition string, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:       sink,
		transition: transition,
		recorder:   metrics.NoopRecorder{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit validates and writes f. After a done frame, a rejected frame or a
// write failure the stream is closed and Emit returns ErrStreamClosed.
func (e *Emitter) Emit(ctx context.Context, f frame.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		e.closed = true
		return err
	}

	if err := frame.Validate(f); err != nil {
		reason := err.Error()
		var ve *frame.ValidationError
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		return e.rejectLocked(ctx, reason)
	}
	if _, err := codec.Encode(f); err != nil {
		return e.rejectLocked(ctx, err.Error())
	}

	if err := e.writeLocked(ctx, f); err != nil {
		e.closed = true
		return err
	}
	if _, done := f.(*frame.Done); done {
		e.closed = true
	}
	return nil
}

// rejectLocked replaces a frame that cannot go on the wire with an error
// frame carrying reason and ends the stream.
func (e *Emitter) rejectLocked(ctx context.Context, reason string) error {
	e.closed = true
	e.recorder.IncValidationFailure(e.transition)
	observability.WarnContext(ctx, e.logger, "Rejected invalid frame", logfields.Reason(reason))
	if err := e.writeLocked(ctx, &frame.Error{Message: "invalid frame: " + reason}); err != nil {
		return err
	}
	return ErrStreamClosed
}

func (e *Emitter) writeLocked(ctx context.Context, f frame.Frame) error {
	if err := e.sink.WriteFrame(ctx, f); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "write frame").
			WithContext("transition", e.transition).
			WithContext("frame_type", string(f.Type())).
			Build()
	}
	e.emitted++
	e.recorder.IncFrameEmitted(e.transition, string(f.Type()))
	return nil
}

// State emits a full-replacement frame.
func (e *Emitter) State(ctx context.Context, states map[string]any) error {
	return e.Emit(ctx, frame.NewFull(states))
}

// Partial emits a partial frame. A nil changed list defaults to the keys of
// states.
func (e *Emitter) Partial(ctx context.Context, states map[string]any, changed, removed []string) error {
	return e.Emit(ctx, frame.NewPartial(states, changed, removed))
}

// Remove emits a partial frame that only removes keys.
func (e *Emitter) Remove(ctx context.Context, keys ...string) error {
	return e.Emit(ctx, frame.NewPartial(nil, nil, keys))
}

// Accumulate emits an accumulate frame.
func (e *Emitter) Accumulate(ctx context.Context, states map[string]any) error {
	return e.Emit(ctx, frame.NewAccumulate(states))
}

// Error emits an application error frame. template names the anchor the
// client renders it into; data replaces the default {"message": message}
// payload. The stream stays open.
func (e *Emitter) Error(ctx context.Context, message, template string, data any) error {
	return e.Emit(ctx, &frame.Error{Message: message, Template: template, Data: data})
}

// Done ends the stream.
func (e *Emitter) Done(ctx context.Context) error {
	return e.Emit(ctx, &frame.Done{})
}

// Close ends the stream without writing a terminal frame, for streams whose
// terminal frame was produced elsewhere (a relayed error frame).
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Closed reports whether the stream has ended.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Emitted reports how many frames were written.
func (e *Emitter) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// fail ends the stream with an application error frame describing err.
func (e *Emitter) fail(ctx context.Context, err error, template string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if werr := e.writeLocked(ctx, &frame.Error{Message: ferrors.UserMessage(err), Template: template}); werr != nil {
		observability.WarnContext(ctx, e.logger, "Failed to write error frame", logfields.Error(werr))
	}
}

// Execute runs h against em and terminates the stream: a nil return
// appends done if the handler did not emit it, an error return appends an
// application error frame rendered into errorTemplate (when non-empty).
// Panics in h are converted into error frames. The returned error is the
// handler's, or nil.
func Execute(ctx context.Context, h Handler, params map[string]any, em *Emitter, errorTemplate string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ferrors.InternalError("transition handler panicked").
				WithContext("panic", fmt.Sprint(rec)).
				Build()
			observability.ErrorContext(ctx, em.logger, "Transition handler panic", slog.Any("panic", rec))
			em.fail(ctx, ferrors.InternalError("internal error").Build(), errorTemplate)
		}
	}()

	if params == nil {
		params = map[string]any{}
	}
	err = h.Serve(ctx, params, em)
	switch {
	case err == nil:
		if !em.Closed() {
			if derr := em.Done(ctx); derr != nil && !errors.Is(derr, ErrStreamClosed) {
				observability.DebugContext(ctx, em.logger, "Failed to write done frame", logfields.Error(derr))
			}
		}
		return nil
	case errors.Is(err, ErrStreamClosed):
		return nil
	case ferrors.IsCanceled(err) || ctx.Err() != nil:
		return err
	default:
		em.fail(ctx, err, errorTemplate)
		return err
	}
}
