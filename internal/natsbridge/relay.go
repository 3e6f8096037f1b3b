package natsbridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/frame"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

// DefaultIdleTimeout is the longest a relay waits between two messages
// from a worker.
const DefaultIdleTimeout = 30 * time.Second

// Relay forwards one transition to NATS workers. It satisfies
// server.Handler and is registered under the transition's name.
type Relay struct {
	transport Transport
	subject   string
	idle      time.Duration
	logger    *slog.Logger
}

// RelayOptions configures a Relay.
type RelayOptions struct {
	Prefix      string
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// NewRelay creates a relay for the named transition.
func NewRelay(t Transport, name string, opts RelayOptions) *Relay {
	r := &Relay{
		transport: t,
		subject:   Subject(opts.Prefix, name),
		idle:      opts.IdleTimeout,
		logger:    opts.Logger,
	}
	if r.idle <= 0 {
		r.idle = DefaultIdleTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Remote marks the handler as forwarding to another process.
func (r *Relay) Remote() bool { return true }

// Subject returns the request subject.
func (r *Relay) Subject() string { return r.subject }

// Serve implements server.Handler.
func (r *Relay) Serve(ctx context.Context, params map[string]any, em *server.Emitter) error {
	inbox := r.transport.NewInbox()
	incoming := make(chan *nats.Msg, 64)
	stop := make(chan struct{})
	defer close(stop)

	sub, err := r.transport.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case incoming <- msg:
		case <-stop:
		}
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "subscribe to reply inbox").Build()
	}
	defer func() { _ = sub.Unsubscribe() }()

	id := observability.GetContext(ctx).TransitionID
	if id == "" {
		id = uuid.NewString()
	}
	req, err := requestMsg(ctx, r.subject, inbox, id, params)
	if err != nil {
		return err
	}
	if err := r.transport.PublishMsg(req); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "publish transition request").
			WithContext("subject", r.subject).
			Build()
	}
	observability.DebugContext(ctx, r.logger, "Transition relayed", logfields.Subject(r.subject))

	idle := time.NewTimer(r.idle)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			r.cancelRemote(inbox)
			return ctx.Err()
		case <-idle.C:
			r.cancelRemote(inbox)
			return ferrors.TransportError("transition worker timed out").
				WithContext("subject", r.subject).
				WithContext("idle_timeout", r.idle.String()).
				Retryable().
				Build()
		case msg := <-incoming:
			if outcome, end := streamEnd(msg); end {
				observability.DebugContext(ctx, r.logger, "Worker stream ended", logfields.Outcome(outcome))
				em.Close()
				return nil
			}
			frames, err := decodeFrames(msg)
			if err != nil {
				r.cancelRemote(inbox)
				return err
			}
			for _, f := range frames {
				if err := em.Emit(ctx, f); err != nil {
					r.cancelRemote(inbox)
					return err
				}
				if _, done := f.(*frame.Done); done {
					return nil
				}
			}
			idle.Reset(r.idle)
		}
	}
}

// cancelRemote tells the worker to stop producing for inbox.
func (r *Relay) cancelRemote(inbox string) {
	if err := r.transport.PublishMsg(nats.NewMsg(inbox + cancelSuffix)); err != nil {
		r.logger.Debug("Failed to publish cancel", logfields.Subject(inbox), logfields.Error(err))
	}
}
