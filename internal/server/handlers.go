package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
	"git.home.luguber.info/inful/anchorstream/internal/server/responses"
	"git.home.luguber.info/inful/anchorstream/internal/version"
)

// maxParamsBytes bounds the transition request body.
const maxParamsBytes = 1 << 20

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := s.registry.Lookup(name)
	if !ok {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.NotFoundError("unknown transition").
			WithContext("transition", name).
			Build())
		return
	}
	params, err := DecodeParams(r.Body)
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	id := r.Header.Get(codec.HeaderTransitionID)
	if id == "" {
		id = uuid.NewString()
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx = observability.WithTransition(ctx, name, id)
	ctx, span := observability.StartSpan(ctx, "transition.server",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("anchorstream.transition", name),
			attribute.String("anchorstream.transition_id", id),
		),
	)

	w.Header().Set("Content-Type", codec.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set(codec.HeaderTransitionID, id)
	w.WriteHeader(http.StatusOK)

	em := NewEmitter(NewHTTPSink(w), name,
		WithEmitterRecorder(s.recorder),
		WithEmitterLogger(s.logger))
	start := time.Now()
	err = Execute(ctx, h, params, em, s.opts.ErrorTemplate)
	observability.EndSpan(span, err)

	attrs := []slog.Attr{
		logfields.Count(em.Emitted()),
		logfields.DurationMS(float64(time.Since(start).Microseconds()) / 1000),
	}
	switch {
	case err == nil:
		observability.InfoContext(ctx, s.logger, "Transition served", attrs...)
	case ferrors.IsCanceled(err):
		observability.DebugContext(ctx, s.logger, "Transition canceled by client", attrs...)
	default:
		observability.WarnContext(ctx, s.logger, "Transition handler failed", append(attrs, logfields.Error(err))...)
	}
}

// DecodeParams reads transition parameters, which must form a JSON object.
// An empty body is treated as {}.
func DecodeParams(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxParamsBytes+1))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "read transition params").Build()
	}
	if len(raw) > maxParamsBytes {
		return nil, ferrors.ValidationError("transition params too large").
			WithContext("limit_bytes", maxParamsBytes).
			Build()
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ferrors.ValidationError("transition params must be a JSON object").Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryDecode, "malformed transition params").Build()
	}
	if params == nil {
		return nil, ferrors.ValidationError("transition params must be a JSON object").Build()
	}
	return params, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := &responses.HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Version:     version.Version,
		Uptime:      time.Since(s.started).Seconds(),
		Transitions: len(s.registry.Names()),
	}
	if err := writeJSON(w, http.StatusOK, health); err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to encode health response").Build())
	}
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	resp := responses.TransitionsResponse{Transitions: make([]responses.TransitionInfo, 0, len(names))}
	for _, name := range names {
		resp.Transitions = append(resp.Transitions, responses.TransitionInfo{
			Name:     name,
			Endpoint: s.cfg.Server.BasePath + "/transition/" + name,
			Remote:   s.registry.IsRemote(name),
		})
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to encode transitions response").Build())
	}
}

// writeJSON serializes the provided value to JSON and writes it with the given
// status code. Encoding is performed into an intermediate buffer so that we
// don't send partial responses if serialization fails.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}
