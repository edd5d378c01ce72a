package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// NATSChannel publishes the execution result to a NATS subject. The
// connection is established lazily on first Send and reused afterwards.
type NATSChannel struct {
	cfg  alert.ChannelConfig
	conn *nats.Conn
}

func NewNATSChannel(cfg alert.ChannelConfig) *NATSChannel {
	return &NATSChannel{cfg: cfg}
}

func (c *NATSChannel) Kind() string { return "nats" }

func (c *NATSChannel) NotifyOnRecovery() bool { return c.cfg.NotifyOnRecovery }

func (c *NATSChannel) Validate() error {
	if c.cfg.URL == "" {
		return Permanent(fmt.Errorf("nats channel missing url"))
	}
	if c.cfg.NATSSubject == "" {
		return Permanent(fmt.Errorf("nats channel missing nats_subject"))
	}
	return nil
}

func (c *NATSChannel) Send(ctx context.Context, msg Message) error {
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := nats.Connect(c.cfg.URL, nats.Name("sqlsentinel"))
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		c.conn = conn
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Permanent(err)
	}
	if err := c.conn.Publish(c.cfg.NATSSubject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.cfg.NATSSubject, err)
	}
	return c.conn.FlushWithContext(ctx)
}

// Close releases the NATS connection if one was opened.
func (c *NATSChannel) Close() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
