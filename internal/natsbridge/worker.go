package natsbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Prefix        string
	QueueGroup    string
	ErrorTemplate string
	Recorder      metrics.Recorder
	Logger        *slog.Logger
}

// Worker serves the handlers of a registry to relays on other processes.
// Requests are handled concurrently.
type Worker struct {
	transport Transport
	registry  *server.Registry
	opts      WorkerOptions
	recorder  metrics.Recorder
	logger    *slog.Logger

	// mu guards the fields below and is held across wg.Add, so no request
	// is added once Stop has set stopped and started waiting.
	mu      sync.Mutex
	sub     Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewWorker creates a worker for reg.
func NewWorker(t Transport, reg *server.Registry, opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		transport: t,
		registry:  reg,
		opts:      opts,
		recorder:  metrics.OrNoop(opts.Recorder),
		logger:    logger,
	}
}

// Start subscribes to "<prefix>.*" in the configured queue group. ctx bounds
// the lifetime of every request the worker serves.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return errors.New("worker already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.stopped = false
	subject := Subject(w.opts.Prefix, "*")
	sub, err := w.transport.QueueSubscribe(subject, w.opts.QueueGroup, w.handle)
	if err != nil {
		w.cancel()
		return ferrors.WrapError(err, ferrors.CategoryTransport, "subscribe to transition subject").
			WithContext("subject", subject).
			Build()
	}
	w.sub = sub
	w.logger.Info("Transition worker started",
		logfields.Subject(subject),
		slog.String("queue_group", w.opts.QueueGroup),
		logfields.Count(len(w.registry.Names())))
	return nil
}

// Stop drains the subscription and waits for in-flight requests until ctx
// expires, then cancels them. Requests delivered during the drain are
// answered with an error frame.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	sub, cancel := w.sub, w.cancel
	w.sub = nil
	if sub != nil {
		w.stopped = true
	}
	w.mu.Unlock()
	if sub == nil {
		return nil
	}
	defer cancel()
	if err := sub.Drain(); err != nil {
		w.logger.Warn("Failed to drain worker subscription", logfields.Error(err))
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("Transition worker stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (w *Worker) handle(msg *nats.Msg) {
	if msg.Reply == "" {
		w.logger.Warn("Dropping transition request without reply subject", logfields.Subject(msg.Subject))
		return
	}
	w.mu.Lock()
	if w.stopped || w.ctx == nil {
		w.mu.Unlock()
		w.refuse(msg)
		return
	}
	base := w.ctx
	w.wg.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.wg.Done()
		w.serve(base, msg)
	}()
}

// refuse ends a request that arrived while the worker was stopping.
func (w *Worker) refuse(msg *nats.Msg) {
	w.logger.Debug("Refusing transition request, worker stopping", logfields.Subject(msg.Subject))
	if fm, err := frameMsg(msg.Reply, &frame.Error{Message: "transition worker stopping"}); err == nil {
		_ = w.transport.PublishMsg(fm)
	}
	_ = w.transport.PublishMsg(endMsg(msg.Reply, "error"))
}

func (w *Worker) serve(base context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithCancel(base)
	defer cancel()
	if sub, err := w.transport.Subscribe(msg.Reply+cancelSuffix, func(*nats.Msg) { cancel() }); err == nil {
		defer func() { _ = sub.Unsubscribe() }()
	}

	name, _ := TransitionFromSubject(w.opts.Prefix, msg.Subject)
	id := ""
	if msg.Header != nil {
		id = msg.Header.Get(codec.HeaderTransitionID)
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx = extractContext(ctx, msg)
	ctx = observability.WithTransition(ctx, name, id)
	ctx, span := observability.StartSpan(ctx, "transition.worker",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("anchorstream.transition", name),
			attribute.String("messaging.destination.name", msg.Subject),
		),
	)

	sink := &replySink{transport: w.transport, reply: msg.Reply}
	em := server.NewEmitter(sink, name,
		server.WithEmitterRecorder(w.recorder),
		server.WithEmitterLogger(w.logger))

	start := time.Now()
	err := w.run(ctx, name, msg, em)
	observability.EndSpan(span, err)

	outcome := "done"
	if !sink.sawDone() {
		outcome = "error"
	}
	if perr := w.transport.PublishMsg(endMsg(msg.Reply, outcome)); perr != nil {
		observability.DebugContext(ctx, w.logger, "Failed to publish stream end", logfields.Error(perr))
	}

	attrs := []slog.Attr{
		logfields.Outcome(outcome),
		logfields.Count(em.Emitted()),
		logfields.DurationMS(float64(time.Since(start).Microseconds()) / 1000),
	}
	if err != nil && !ferrors.IsCanceled(err) {
		observability.WarnContext(ctx, w.logger, "Remote transition failed", append(attrs, logfields.Error(err))...)
		return
	}
	observability.InfoContext(ctx, w.logger, "Remote transition served", attrs...)
}

func (w *Worker) run(ctx context.Context, name string, msg *nats.Msg, em *server.Emitter) error {
	h, ok := w.registry.Lookup(name)
	if !ok {
		err := ferrors.NotFoundError("unknown transition").
			WithContext("transition", name).
			Build()
		_ = em.Error(ctx, "unknown transition: "+name, w.opts.ErrorTemplate, nil)
		return err
	}
	params, err := decodeParams(msg)
	if err != nil {
		_ = em.Error(ctx, err.Error(), w.opts.ErrorTemplate, nil)
		return err
	}
	return server.Execute(ctx, h, params, em, w.opts.ErrorTemplate)
}

// replySink publishes each frame as one message on the reply subject.
type replySink struct {
	transport Transport
	reply     string

	mu   sync.Mutex
	done bool
}

// WriteFrame implements server.FrameSink.
func (s *replySink) WriteFrame(_ context.Context, f frame.Frame) error {
	msg, err := frameMsg(s.reply, f)
	if err != nil {
		return err
	}
	if err := s.transport.PublishMsg(msg); err != nil {
		return err
	}
	if _, ok := f.(*frame.Done); ok {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
	}
	return nil
}

func (s *replySink) sawDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
