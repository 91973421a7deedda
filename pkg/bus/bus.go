// Package bus publishes run lifecycle events to NATS JetStream so
// consumers can subscribe for live updates instead of polling the API.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/config"
)

// DefaultSubjectPrefix is used when no subject prefix is configured.
const DefaultSubjectPrefix = "logoforge"

// Publisher wraps a NATS JetStream connection for publishing events.
// A nil Publisher is valid and drops every publish, so callers need no
// enabled-checks at call sites.
type Publisher struct {
	log    logrus.FieldLogger
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// Connect creates a Publisher connected to the configured NATS
// endpoint.
func Connect(log logrus.FieldLogger, cfg *config.BusConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("getting jetstream context: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &Publisher{
		log:    log.WithField("component", "bus"),
		conn:   nc,
		js:     js,
		prefix: prefix,
	}, nil
}

// Close drains the underlying NATS connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}

	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it under the configured
// subject prefix. Failures are logged, never surfaced: event delivery
// is best-effort and must not affect request handling.
func (p *Publisher) Publish(ctx context.Context, subject string, v any) {
	if p == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.log.WithError(err).
			WithField("subject", subject).
			Warn("Failed to encode bus event")

		return
	}

	full := p.prefix + "." + subject

	if _, err := p.js.Publish(full, data, nats.Context(ctx)); err != nil {
		p.log.WithError(err).
			WithField("subject", full).
			Warn("Failed to publish bus event")
	}
}
