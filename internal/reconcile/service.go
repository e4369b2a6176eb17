package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/notify"
	"github.com/overseer-lite/overseer-lite/internal/plex"
	"github.com/overseer-lite/overseer-lite/internal/safego"
	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusIgnored = "ignored"
)

// notifyTimeout bounds one detached notification delivery.
const notifyTimeout = 30 * time.Second

// Store is the part of store.Store the reconciler reads and writes.
type Store interface {
	ResolverStore
	GetRequest(ctx context.Context, kind models.Kind, tmdbID int64) (*models.Request, error)
	MarkFulfilled(ctx context.Context, kind models.Kind, tmdbID int64, at time.Time) (*models.Request, error)
	SetRequestPlexGUID(ctx context.Context, kind models.Kind, tmdbID int64, plexGUID string) error
	UpsertLibraryItem(ctx context.Context, item *models.LibraryItem) error
	SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (int, error)
	PutMapping(ctx context.Context, m *models.IdentifierMapping) error
}

// Outcome summarises one handled webhook event.
type Outcome struct {
	Status         string      `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	Title          string      `json:"title,omitempty"`
	Kind           models.Kind `json:"media_type,omitempty"`
	PlexType       string      `json:"plex_type,omitempty"`
	TMDBID         int64       `json:"tmdb_id,omitempty"`
	Strategy       Strategy    `json:"strategy,omitempty"`
	LibraryWritten bool        `json:"library_written"`
	MatchedRequest bool        `json:"matched_request"`
	// NotificationQueued is set only by the call that fulfilled the request.
	// Delivery happens later and may still fail.
	NotificationQueued bool `json:"notification_queued"`
}

// SyncResult summarises a bulk library sync.
type SyncResult struct {
	Status        string      `json:"status"`
	Kind          models.Kind `json:"media_type"`
	Synced        int         `json:"synced"`
	MarkedAsAdded int         `json:"marked_as_added"`
}

// DispatchFunc hands a notification off for delivery. It must not block.
type DispatchFunc func(ctx context.Context, n *notify.Notification)

// Options configures a Reconciler. Zero values are usable.
type Options struct {
	// ServerName, when set, ignores events from other Plex servers.
	ServerName string
	Notifier   notify.Notifier
	ImageURL   notify.ImageURLFunc
	Logger     *slog.Logger
	// Dispatch replaces the default detached-goroutine delivery.
	Dispatch DispatchFunc
	Now      func() time.Time
}

// Reconciler applies library additions to the request list.
type Reconciler struct {
	store      Store
	resolver   *Resolver
	serverName string
	imageURL   notify.ImageURLFunc
	dispatch   DispatchFunc
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Reconciler.
func New(store Store, resolver *Resolver, opts Options) *Reconciler {
	r := &Reconciler{
		store:      store,
		resolver:   resolver,
		serverName: opts.ServerName,
		imageURL:   opts.ImageURL,
		dispatch:   opts.Dispatch,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.dispatch == nil {
		r.dispatch = detachedDispatch(opts.Notifier, r.logger)
	}
	return r
}

func detachedDispatch(notifier notify.Notifier, logger *slog.Logger) DispatchFunc {
	return func(ctx context.Context, n *notify.Notification) {
		if notifier == nil {
			return
		}
		safego.Detached(ctx, "notify "+n.Tag, notifyTimeout, func(ctx context.Context) {
			if err := notifier.Notify(ctx, n); err != nil {
				logger.Warn("notification delivery failed", "tag", n.Tag, "error", err)
			}
		})
	}
}

// Handle processes one webhook event. Any returned error means nothing the
// caller can observe was lost and the delivery should be retried; writes
// made before the failure are idempotent.
func (r *Reconciler) Handle(ctx context.Context, ev *plex.Event) (*Outcome, error) {
	r.logger.Info("webhook received",
		"event", ev.Event,
		"server", ev.Server.Title,
		"type", ev.Metadata.Type,
		"title", ev.Metadata.DisplayTitle(),
	)

	if ev.Event != plex.EventLibraryNew {
		return r.ignore(fmt.Sprintf("Event type '%s' not processed", ev.Event)), nil
	}
	if r.serverName != "" && ev.Server.Title != r.serverName {
		r.logger.Info("webhook ignored: server mismatch", "expected", r.serverName, "got", ev.Server.Title)
		return r.ignore("Server name mismatch"), nil
	}
	media := ev.Media()
	if media == nil {
		return r.ignore("Unsupported media type"), nil
	}

	res, err := r.resolver.Resolve(ctx, media)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", media.Title, err)
	}

	out := &Outcome{
		Status:   StatusSuccess,
		Title:    media.Title,
		Kind:     media.Kind,
		PlexType: media.PlexType,
		TMDBID:   res.TMDBID,
		Strategy: res.Strategy,
	}
	now := r.now().UTC()

	if item := libraryItem(media, res, now); item != nil {
		if err := r.store.UpsertLibraryItem(ctx, item); err != nil {
			return nil, fmt.Errorf("upsert library item: %w", err)
		}
		out.LibraryWritten = true
	}

	if res.Matched() {
		flipped, err := r.store.MarkFulfilled(ctx, media.Kind, res.TMDBID, now)
		if err != nil {
			return nil, fmt.Errorf("mark fulfilled: %w", err)
		}
		if flipped != nil {
			out.MatchedRequest = true
			if media.PlexGUID != "" {
				if err := r.store.SetRequestPlexGUID(ctx, media.Kind, res.TMDBID, media.PlexGUID); err != nil {
					return nil, fmt.Errorf("link plex guid: %w", err)
				}
				flipped.PlexGUID = &media.PlexGUID
			}
			r.fulfilled(ctx, flipped)
			out.NotificationQueued = true
		} else {
			existing, err := r.store.GetRequest(ctx, media.Kind, res.TMDBID)
			if err != nil {
				return nil, fmt.Errorf("get request: %w", err)
			}
			out.MatchedRequest = existing != nil
		}
	}

	if media.PlexGUID != "" && !res.cached && (res.TMDBID > 0 || res.TVDBID > 0) {
		mapping := &models.IdentifierMapping{
			PlexGUID:  media.PlexGUID,
			Kind:      media.Kind,
			TMDBID:    res.TMDBID,
			TVDBID:    optionalID(res.TVDBID),
			UpdatedAt: now,
		}
		if err := r.store.PutMapping(ctx, mapping); err != nil {
			return nil, fmt.Errorf("cache identifier mapping: %w", err)
		}
	}

	telemetry.WebhookEventsTotal.WithLabelValues(out.Status, string(out.Strategy)).Inc()
	r.logger.Info("webhook processed",
		"title", out.Title,
		"media_type", out.Kind,
		"plex_type", out.PlexType,
		"tmdb_id", out.TMDBID,
		"strategy", out.Strategy,
		"library_written", out.LibraryWritten,
		"matched_request", out.MatchedRequest,
	)
	return out, nil
}

// SyncLibrary upserts a library export of one kind and fulfils every
// request it now covers.
func (r *Reconciler) SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (*SyncResult, error) {
	r.logger.Info("library sync started", "media_type", kind, "count", len(items), "clear", clearFirst)

	synced, err := r.store.SyncLibrary(ctx, kind, items, clearFirst)
	if err != nil {
		return nil, fmt.Errorf("sync library: %w", err)
	}

	now := r.now().UTC()
	marked := 0
	for _, it := range items {
		if it.TMDBID <= 0 {
			continue
		}
		flipped, err := r.store.MarkFulfilled(ctx, kind, it.TMDBID, now)
		if err != nil {
			return nil, fmt.Errorf("mark fulfilled %s %d: %w", kind, it.TMDBID, err)
		}
		if flipped != nil {
			marked++
			r.fulfilled(ctx, flipped)
		}
	}

	result := &SyncResult{Status: StatusSuccess, Kind: kind, Synced: synced, MarkedAsAdded: marked}
	r.logger.Info("library sync complete", "media_type", kind, "synced", synced, "marked_as_added", marked)
	return result, nil
}

// fulfilled records a flipped request and queues its notification.
func (r *Reconciler) fulfilled(ctx context.Context, req *models.Request) {
	telemetry.RequestsFulfilledTotal.WithLabelValues(string(req.Kind)).Inc()
	r.logger.Info("request fulfilled", "title", req.Title, "media_type", req.Kind, "tmdb_id", req.TMDBID)
	r.dispatch(ctx, notify.NewFulfilled(req, r.imageURL))
}

func (r *Reconciler) ignore(reason string) *Outcome {
	telemetry.WebhookEventsTotal.WithLabelValues(StatusIgnored, "").Inc()
	r.logger.Info("webhook ignored", "reason", reason)
	return &Outcome{Status: StatusIgnored, Reason: reason}
}

// libraryItem builds the library record for an event, keyed by TMDB id when
// resolved and by Plex GUID otherwise. It returns nil when neither exists.
func libraryItem(m *plex.Media, res Resolution, now time.Time) *models.LibraryItem {
	if !res.Matched() && m.PlexGUID == "" {
		return nil
	}
	item := &models.LibraryItem{
		Kind:    m.Kind,
		TMDBID:  res.TMDBID,
		Title:   m.Title,
		Year:    m.Year,
		AddedAt: now,
	}
	switch {
	case m.TVDBID > 0:
		item.TVDBID = optionalID(m.TVDBID)
	case res.TVDBID > 0:
		item.TVDBID = optionalID(res.TVDBID)
	}
	if m.IMDbID != "" {
		imdb := m.IMDbID
		item.IMDbID = &imdb
	}
	if m.PlexGUID != "" {
		guid := m.PlexGUID
		item.PlexGUID = &guid
	}
	return item
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
