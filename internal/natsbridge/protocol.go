package natsbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

const (
	// HeaderStreamEnd marks the last message a worker publishes for one
	// request. Its value is the outcome: "done" or "error".
	HeaderStreamEnd = "Anchorstream-Stream-End"

	// cancelSuffix is appended to a reply inbox to form the subject a
	// relay publishes on when the client goes away.
	cancelSuffix = ".cancel"
)

// Subject returns the request subject for a transition.
func Subject(prefix, name string) string {
	return prefix + "." + name
}

// TransitionFromSubject extracts the transition name from a request
// subject, reporting false when the subject is not a single token below
// prefix.
func TransitionFromSubject(prefix, subject string) (string, bool) {
	name, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || !server.ValidName(name) {
		return "", false
	}
	return name, true
}

// requestMsg builds the request message for one transition.
func requestMsg(ctx context.Context, subject, reply, transitionID string, params map[string]any) (*nats.Msg, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "encode transition params").Build()
	}
	msg := nats.NewMsg(subject)
	msg.Reply = reply
	msg.Data = data
	msg.Header.Set(codec.HeaderTransitionID, transitionID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return msg, nil
}

// frameMsg wraps one encoded frame for the reply subject.
func frameMsg(reply string, f frame.Frame) (*nats.Msg, error) {
	line, err := codec.Encode(f)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(reply)
	msg.Data = line
	return msg, nil
}

// endMsg marks the end of a worker's reply stream.
func endMsg(reply, outcome string) *nats.Msg {
	msg := nats.NewMsg(reply)
	msg.Header.Set(HeaderStreamEnd, outcome)
	return msg
}

// streamEnd reports whether msg is an end marker and its outcome.
func streamEnd(msg *nats.Msg) (string, bool) {
	if msg.Header == nil {
		return "", false
	}
	outcome := msg.Header.Get(HeaderStreamEnd)
	return outcome, outcome != ""
}

// decodeFrames parses the frames carried by one reply message.
func decodeFrames(msg *nats.Msg) ([]frame.Frame, error) {
	frames, err := codec.Decode(string(msg.Data))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDecode, "malformed frame from worker").
			WithContext("subject", msg.Subject).
			Build()
	}
	return frames, nil
}

// extractContext restores the trace context carried by msg.
func extractContext(ctx context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
}

// decodeParams parses the request payload.
func decodeParams(msg *nats.Msg) (map[string]any, error) {
	return server.DecodeParams(bytes.NewReader(msg.Data))
}
