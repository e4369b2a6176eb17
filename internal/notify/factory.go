package notify

import (
	"io"
	"log/slog"

	"github.com/overseer-lite/overseer-lite/internal/config"
)

// FromConfig builds the configured notifiers. The log notifier is always
// present. The returned closer releases transport connections.
func FromConfig(cfg config.NotificationsConfig, logger *slog.Logger) (Multi, io.Closer, error) {
	notifiers := Multi{NewLogNotifier(logger)}
	closers := closerList{}

	if !cfg.Enabled {
		return notifiers, closers, nil
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.NATS.URL != "" {
		n, err := NewNATSNotifier(cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, n)
		closers = append(closers, n)
	}
	return notifiers, closers, nil
}

type closerList []io.Closer

func (c closerList) Close() error {
	for _, closer := range c {
		_ = closer.Close()
	}
	return nil
}
