// Package subscriber consumes operational records published on NATS.
// Proxies that cannot use the HTTP submission endpoint publish records to
// a subject instead; the subscriber feeds them into the same buffer path.
package subscriber

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/meshgate/opmond/internal/buffer"
	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/models"
)

type Subscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	buffer *buffer.Buffer
	health *health.Aggregator
	logger *logging.Logger
}

// New connects to NATS and subscribes to the record subject. Each message
// carries one record as JSON. Malformed or invalid records are logged and
// skipped; one bad publisher must not stall the subject.
func New(url, subject string, buf *buffer.Buffer, agg *health.Aggregator, logger *logging.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	s := &Subscriber{
		conn:   conn,
		buffer: buf,
		health: agg,
		logger: logger,
	}

	sub, err := conn.Subscribe(subject, s.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	s.sub = sub

	logger.Info("subscribed to record subject", "subject", subject, "url", conn.ConnectedUrl())
	return s, nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var record models.OperationalRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		s.logger.Warn("dropping malformed record message", "subject", msg.Subject, "error", err)
		return
	}
	if err := record.Validate(); err != nil {
		s.logger.Warn("dropping invalid record", "subject", msg.Subject, "error", err)
		return
	}

	s.buffer.Submit(record)
	s.health.ObserveRecord(&record)
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	s.conn.Close()
}
