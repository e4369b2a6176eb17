// Package notify delivers "request fulfilled" notifications. Deliveries are
// best effort: the reconciler hands them off and never fails on them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// EventRequestFulfilled is the event name carried by every notification.
const EventRequestFulfilled = "request.fulfilled"

// Notification is the document delivered to every transport.
type Notification struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Tag        string          `json:"tag"`
	Image      string          `json:"image,omitempty"`
	Icon       string          `json:"icon,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Request    *models.Request `json:"request"`
}

// ImageURLFunc builds a poster URL for a size and TMDB poster path.
type ImageURLFunc func(size, path string) string

// NewFulfilled builds the notification for a fulfilled request.
func NewFulfilled(req *models.Request, image ImageURLFunc) *Notification {
	n := &Notification{
		ID:         uuid.NewString(),
		Event:      EventRequestFulfilled,
		Title:      req.Kind.Label() + " Available",
		Body:       req.Title + " has been added to the library!",
		Tag:        fmt.Sprintf("fulfilled-%s-%d", req.Kind, req.TMDBID),
		OccurredAt: time.Now().UTC(),
		Request:    req,
	}
	if req.FulfilledAt != nil {
		n.OccurredAt = req.FulfilledAt.UTC()
	}
	if image != nil && req.PosterPath != nil && *req.PosterPath != "" {
		n.Image = image("w300", *req.PosterPath)
		n.Icon = image("w92", *req.PosterPath)
	}
	return n
}

// Notifier delivers a notification over one transport.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n *Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m {
		err := notifier.Notify(ctx, n)
		outcome := "sent"
		if err != nil {
			outcome = "failed"
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
		telemetry.NotificationsTotal.WithLabelValues(notifier.Name(), outcome).Inc()
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier uses slog.Default when logger is nil
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n *Notification) error {
	attrs := []any{
		"id", n.ID,
		"tag", n.Tag,
		"title", n.Request.Title,
		"media_type", n.Request.Kind,
		"tmdb_id", n.Request.TMDBID,
	}
	if n.Request.RequestedBy != nil {
		attrs = append(attrs, "requested_by", *n.Request.RequestedBy)
	}
	l.logger.InfoContext(ctx, "request fulfilled", attrs...)
	return nil
}
