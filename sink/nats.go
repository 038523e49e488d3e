// Package sink delivers writeback records to the system of record.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// NATS SINK
// =============================================================================

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns connection settings for url.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:            url,
		Name:           "payment-reconciler",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
		ConnectTimeout: 5 * time.Second,
	}
}

// Connect opens a NATS connection.
func Connect(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each record as JSON on one subject.
type NATSSink struct {
	pub     Publisher
	subject string
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) Deliver(_ context.Context, record payments.WritebackRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal writeback record: %w", err)
	}
	if err := s.pub.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.subject, err)
	}
	return nil
}
