// Package natsbridge runs transitions on remote workers over NATS. A Relay
// is a server.Handler that forwards one transition request to
// "<prefix>.<name>" and re-emits the frames published back on a private
// inbox; a Worker serves registered handlers on a queue group and
// publishes one encoded frame per message.
package natsbridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
)

// Subscription is the part of *nats.Subscription the bridge uses.
type Subscription interface {
	Unsubscribe() error
	Drain() error
}

// Transport is the part of a NATS connection the bridge uses.
type Transport interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error)
	NewInbox() string
}

// ConnTransport adapts a *nats.Conn.
type ConnTransport struct {
	Conn *nats.Conn
}

// PublishMsg implements Transport.
func (t ConnTransport) PublishMsg(msg *nats.Msg) error {
	return t.Conn.PublishMsg(msg)
}

// Subscribe implements Transport.
func (t ConnTransport) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := t.Conn.Subscribe(subject, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// QueueSubscribe implements Transport.
func (t ConnTransport) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := t.Conn.QueueSubscribe(subject, queue, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// NewInbox implements Transport.
func (t ConnTransport) NewInbox() string {
	return nats.NewInbox()
}

// Connect opens a NATS connection for the bridge. Reconnects are retried
// indefinitely; disconnects and reconnects are logged.
func Connect(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if !cfg.Enabled {
		return nil, ferrors.ConfigError("NATS bridge is disabled").
			WithContext("field", "nats.enabled").
			Build()
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("anchorstream"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.URL(cfg.URL), logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", logfields.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, fmt.Sprintf("failed to connect to NATS at %s", cfg.URL)).
			Retryable().
			Build()
	}

	logger.Info("NATS connection established",
		logfields.URL(conn.ConnectedUrl()),
		logfields.Subject(cfg.SubjectPrefix))
	return conn, nil
}
