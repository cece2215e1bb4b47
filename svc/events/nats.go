package events

import (
	"context"
	"encoding/json"
	"pastebin/metrics"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATS publishes events as JSON. Publishing is fire and forget; a failed
// publish is logged and counted but never fails the caller's operation.
type NATS struct {
	conn *nats.Conn
	log  zerolog.Logger
}

func NewNATS(c NATSConfig, log zerolog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("pastebin"),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	conn, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return &NATS{conn: conn, log: log}, nil
}
func (n *NATS) Publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return errors.Wrapf(err, "encoding %s event", subject)
	}
	if err := n.conn.Publish(subject, b); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		n.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
		return errors.Wrapf(err, "publishing %s", subject)
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}

// Ping flushes pending publishes and reports whether the server answered.
func (n *NATS) Ping(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close drains buffered messages before disconnecting.
func (n *NATS) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
