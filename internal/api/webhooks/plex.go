// Package webhooks receives Plex media-server events and bulk library
// exports. Both routes are guarded by the Plex webhook token; the media
// server retries deliveries that fail, so processing errors answer 503.
package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/plex"
	"github.com/overseer-lite/overseer-lite/internal/reconcile"
	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// Reconciler applies events and exports. Satisfied by *reconcile.Reconciler.
type Reconciler interface {
	Handle(ctx context.Context, ev *plex.Event) (*reconcile.Outcome, error)
	SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (*reconcile.SyncResult, error)
}

// PlexHandler serves /webhook/plex and /sync/library.
type PlexHandler struct {
	reconciler Reconciler
}

// NewPlexHandler creates a new webhook handler
func NewPlexHandler(reconciler Reconciler) *PlexHandler {
	return &PlexHandler{reconciler: reconciler}
}

// @Summary      Receive Plex webhook
// @Description  Accepts a Plex webhook as a multipart "payload" field or a raw JSON body.
// @Description  library.new events mark matching requests as fulfilled; other events are ignored.
// @Tags         Webhooks
// @Accept       multipart/form-data
// @Accept       json
// @Produce      json
// @Param        token  query  string  true  "Plex webhook token"
// @Success      200  {object}  reconcile.Outcome
// @Failure      400  {object}  map[string]interface{}  "Invalid JSON payload"
// @Failure      401  {object}  map[string]interface{}  "Invalid webhook token"
// @Failure      413  {object}  map[string]interface{}  "Payload too large"
// @Failure      503  {object}  map[string]interface{}  "Processing failed, retry later"
// @Router       /webhook/plex [post]
func (h *PlexHandler) HandleWebhook(c *gin.Context) {
	data, err := plex.ReadPayload(c.Writer, c.Request)
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues("invalid", "").Inc()
		switch {
		case errors.Is(err, plex.ErrMissingPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing payload"})
			return
		case errors.Is(err, plex.ErrPayloadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		slog.Warn("unreadable webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	ev, err := plex.ParsePayload(data)
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues("invalid", "").Inc()
		slog.Warn("invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	outcome, err := h.reconciler.Handle(c.Request.Context(), ev)
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues("error", "").Inc()
		slog.Error("webhook processing failed", "event", ev.Event, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Processing failed, retry later"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// @Summary      Sync library export
// @Description  Upserts a JSON array of library items of one media type and fulfils pending requests now present.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        token       query  string  true   "Plex webhook token"
// @Param        media_type  query  string  true   "movie or tv"
// @Param        clear       query  bool    false  "Remove existing items of this type first"
// @Param        body        body   []models.SyncItem  true  "Library items"
// @Success      200  {object}  reconcile.SyncResult
// @Failure      400  {object}  map[string]interface{}  "Invalid media type or body"
// @Failure      503  {object}  map[string]interface{}  "Sync failed, retry later"
// @Router       /sync/library [post]
func (h *PlexHandler) SyncLibrary(c *gin.Context) {
	kind, err := models.ParseKind(c.Query("media_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media_type must be 'movie' or 'tv'"})
		return
	}
	clearFirst := c.Query("clear") == "true" || c.Query("clear") == "1"

	items, status, msg := decodeSyncItems(c.Request)
	if status != 0 {
		slog.Warn("rejected library sync", "media_type", kind, "reason", msg)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	result, err := h.reconciler.SyncLibrary(c.Request.Context(), kind, items, clearFirst)
	if err != nil {
		slog.Error("library sync failed", "media_type", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync failed, retry later"})
		return
	}
	c.JSON(http.StatusOK, result)
}
