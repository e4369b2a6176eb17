package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/overseer-lite/overseer-lite/internal/config"
)

// NATSNotifier publishes notifications to a subject. The notification id is
// sent as Nats-Msg-Id so a JetStream stream on the subject deduplicates
// redeliveries.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to cfg.URL
func NewNATSNotifier(cfg config.NATSNotifyConfig) (*NATSNotifier, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("overseer-lite"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	return &NATSNotifier{conn: conn, subject: cfg.Subject}, nil
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, notification *Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, notification.ID)
	msg.Header.Set("Content-Type", "application/json")

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains the connection
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
