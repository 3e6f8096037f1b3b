// Package transition runs named server transitions from the client side:
// it POSTs the parameters, streams the NDJSON response through the codec
// into the runtime and enforces the abort-previous policy.
package transition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
)

// HeaderTransitionID carries the client-generated transition id.
const HeaderTransitionID = codec.HeaderTransitionID

// Target is the frame intake the controller drives; *runtime.Runtime
// satisfies it.
type Target interface {
	EnqueueFrame(f frame.Frame)
	MarkPending(names []string)
	ClearPending()
	AnchorNames() []string
	Trace(ev runtime.TraceEvent)
}

// Controller executes transitions. At most one transition is current;
// starting another cancels it and its later output is discarded.
type Controller struct {
	target   Target
	baseURL  string
	client   *http.Client
	recorder metrics.Recorder
	logger   *slog.Logger

	// mu guards current and is held while a frame is handed to the target,
	// so a superseded transition can never enqueue after the switch.
	mu      sync.Mutex
	current *inflight
}

type inflight struct {
	id     string
	name   string
	cancel context.CancelFunc
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithHTTPClient sets the HTTP client. It must not impose a response
// timeout shorter than the longest expected stream.
func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) { c.client = client }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = metrics.OrNoop(r) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a controller posting to baseURL + "/transition/<name>".
// The trace hook of the target's runtime must not call back into the
// controller.
func NewController(target Target, baseURL string, opts ...ControllerOption) *Controller {
	c := &Controller{
		target:   target,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   http.DefaultClient,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callOptions struct {
	targets    []string
	hasTargets bool
}

// Option configures one Transition call.
type Option func(*callOptions)

// WithPendingTargets marks exactly the named anchors pending instead of
// every known anchor.
func WithPendingTargets(names ...string) Option {
	return func(o *callOptions) {
		o.targets = names
		o.hasTargets = true
	}
}

// Transition runs the named transition with params (a JSON object; nil
// sends {}). Transport failures and cancellation are reported through the
// trace hook and return nil; a malformed response stream returns a decode
// error; params that do not encode to a JSON object return a validation
// error.
func (c *Controller) Transition(ctx context.Context, name string, params any, opts ...Option) error {
	var call callOptions
	for _, opt := range opts {
		opt(&call)
	}
	body, err := encodeParams(params)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = observability.WithTransition(ctx, name, id)
	ctx, span := observability.StartSpan(ctx, "transition.client",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("anchorstream.transition", name)),
	)

	t := &inflight{id: id, name: name, cancel: cancel}
	c.begin(t, call)
	defer c.end(t)

	start := time.Now()
	outcome, err := c.run(ctx, t, body)
	c.recorder.ObserveTransition(name, time.Since(start), outcome)
	observability.Log(ctx, c.logger, levelFor(outcome), "Transition finished",
		logfields.Outcome(string(outcome)),
		logfields.DurationMS(float64(time.Since(start).Microseconds())/1000),
	)
	observability.EndSpan(span, err)
	if outcome == metrics.OutcomeDecode {
		return err
	}
	return nil
}

// begin makes t current, cancelling its predecessor and moving the pending
// marks over to t's targets.
func (c *Controller) begin(t *inflight, call callOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
		c.logger.Debug("Transition superseded",
			logfields.Transition(c.current.name),
			logfields.TransitionID(c.current.id))
	}
	c.current = t
	c.target.ClearPending()
	targets := call.targets
	if !call.hasTargets {
		targets = c.target.AnchorNames()
	}
	c.target.MarkPending(targets)
}

func (c *Controller) end(t *inflight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == t {
		c.current = nil
	}
}

// clearPendingIfCurrent drops the pending marks unless a newer transition
// already owns them.
func (c *Controller) clearPendingIfCurrent(t *inflight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == t {
		c.target.ClearPending()
	}
}

func (c *Controller) run(ctx context.Context, t *inflight, body []byte) (metrics.Outcome, error) {
	endpoint := c.baseURL + "/transition/" + url.PathEscape(t.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return c.fail(ctx, t, metrics.OutcomeTransport, ferrors.WrapError(err, ferrors.CategoryTransport, "build transition request").Build())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", codec.ContentType)
	req.Header.Set(HeaderTransitionID, t.id)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return c.canceled(ctx, t)
		}
		return c.fail(ctx, t, metrics.OutcomeTransport, ferrors.WrapError(err, ferrors.CategoryTransport, "transition request failed").
			WithContext("url", endpoint).
			Build())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(ctx, t, metrics.OutcomeTransport, ferrors.TransportError(statusMessage(resp)).
			WithContext("status", resp.StatusCode).
			WithContext("url", endpoint).
			Build())
	}

	first := true
	err = codec.NewReader(resp.Body).Each(func(f frame.Frame) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != t || ctx.Err() != nil {
			return codec.ErrStop
		}
		if first {
			c.target.ClearPending()
			first = false
		}
		c.target.EnqueueFrame(f)
		if _, done := f.(*frame.Done); done {
			return codec.ErrStop
		}
		return nil
	})
	switch {
	case ctx.Err() != nil:
		return c.canceled(ctx, t)
	case err == nil:
		if first {
			c.clearPendingIfCurrent(t)
		}
		return metrics.OutcomeSuccess, nil
	case isDecodeError(err):
		return c.fail(ctx, t, metrics.OutcomeDecode, ferrors.WrapError(err, ferrors.CategoryDecode, "malformed transition stream").Build())
	default:
		return c.fail(ctx, t, metrics.OutcomeTransport, ferrors.WrapError(err, ferrors.CategoryTransport, "read transition stream").Build())
	}
}

func (c *Controller) canceled(ctx context.Context, t *inflight) (metrics.Outcome, error) {
	c.clearPendingIfCurrent(t)
	observability.DebugContext(ctx, c.logger, "Transition canceled")
	return metrics.OutcomeCanceled, context.Canceled
}

func (c *Controller) fail(ctx context.Context, t *inflight, outcome metrics.Outcome, err error) (metrics.Outcome, error) {
	c.clearPendingIfCurrent(t)
	detail := map[string]any{
		"message":       err.Error(),
		"transition":    t.name,
		"transition_id": t.id,
	}
	if ce, ok := ferrors.AsClassified(err); ok {
		detail["category"] = string(ce.Category())
		if status, ok := ce.Context().Get("status"); ok {
			detail["status"] = status
		}
	}
	c.target.Trace(runtime.TraceEvent{Kind: runtime.TraceError, Detail: detail})
	observability.WarnContext(ctx, c.logger, "Transition failed", logfields.Error(err))
	return outcome, err
}

func encodeParams(params any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "encode transition params").Build()
	}
	if string(body) == "null" {
		return []byte("{}"), nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return nil, ferrors.ValidationError("transition params must encode to a JSON object").Build()
	}
	return body, nil
}

func isDecodeError(err error) bool {
	var lineErr *codec.LineError
	return errors.As(err, &lineErr)
}

// statusMessage describes a non-2xx response, using the JSON error body
// when the server sent one.
func statusMessage(resp *http.Response) string {
	msg := fmt.Sprintf("transition returned %s", resp.Status)
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return msg
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return msg + ": " + payload.Error
	}
	return msg
}

func levelFor(outcome metrics.Outcome) slog.Level {
	switch outcome {
	case metrics.OutcomeSuccess:
		return slog.LevelInfo
	case metrics.OutcomeCanceled:
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}
