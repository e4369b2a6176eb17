// Package lists serves pending requests to download managers: Radarr and
// Sonarr custom lists, RSS channels and a discovery document describing them.
package lists

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/feeds"
	"github.com/overseer-lite/overseer-lite/pkg/checksum"
)

// Renderer builds feed documents. Satisfied by *feeds.Builder.
type Renderer interface {
	Radarr(ctx context.Context) (*feeds.Document, error)
	Sonarr(ctx context.Context) (*feeds.Document, error)
	RSS(ctx context.Context, kind models.Kind, link string) (*feeds.Document, error)
}

// Handlers serves /list, /rss and /api/feeds.
type Handlers struct {
	feeds         Renderer
	baseURL       string
	tokenRequired bool
}

// NewHandlers creates list handlers. baseURL is the public address used in
// RSS links and the discovery document.
func NewHandlers(renderer Renderer, baseURL string, tokenRequired bool) *Handlers {
	return &Handlers{
		feeds:         renderer,
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokenRequired: tokenRequired,
	}
}

// serve writes doc, or 304 when the caller already holds the same entity.
func serve(c *gin.Context, name string, doc *feeds.Document, err error) {
	if err != nil {
		slog.Error("failed to render feed", "feed", name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Feed temporarily unavailable"})
		return
	}

	c.Header("ETag", doc.ETag)
	c.Header("Cache-Control", "no-cache")
	if checksum.MatchETag(c.GetHeader("If-None-Match"), doc.ETag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// @Summary      Radarr list
// @Description  Pending movie requests in the StevenLu custom list format.
// @Tags         Feeds
// @Produce      json
// @Param        token  query  string  false  "Feed token, when configured"
// @Success      200  {array}  feeds.RadarrItem
// @Success      304  "Not modified"
// @Failure      401  {object}  map[string]interface{}  "Invalid feed token"
// @Router       /list/radarr [get]
func (h *Handlers) Radarr(c *gin.Context) {
	doc, err := h.feeds.Radarr(c.Request.Context())
	serve(c, "radarr", doc, err)
}

// @Summary      Sonarr list
// @Description  Pending show requests that carry a TVDB id, in Sonarr's custom list format.
// @Tags         Feeds
// @Produce      json
// @Param        token  query  string  false  "Feed token, when configured"
// @Success      200  {array}  feeds.SonarrItem
// @Success      304  "Not modified"
// @Failure      401  {object}  map[string]interface{}  "Invalid feed token"
// @Router       /list/sonarr [get]
func (h *Handlers) Sonarr(c *gin.Context) {
	doc, err := h.feeds.Sonarr(c.Request.Context())
	serve(c, "sonarr", doc, err)
}

// @Summary      RSS feed
// @Description  Pending requests as RSS 2.0. feed is movies, tv or all.
// @Tags         Feeds
// @Produce      xml
// @Param        feed   path   string  true   "movies, tv or all"
// @Param        token  query  string  false  "Feed token, when configured"
// @Success      200  "RSS document"
// @Failure      404  {object}  map[string]interface{}  "Unknown feed"
// @Router       /rss/{feed} [get]
func (h *Handlers) RSS(c *gin.Context) {
	var kind models.Kind
	switch c.Param("feed") {
	case "movies":
		kind = models.KindMovie
	case "tv":
		kind = models.KindTV
	case "all":
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown feed"})
		return
	}
	doc, err := h.feeds.RSS(c.Request.Context(), kind, h.baseURL)
	serve(c, "rss", doc, err)
}

// @Summary      Feed discovery
// @Description  Lists every feed URL with setup hints. Tokens are never echoed.
// @Tags         Feeds
// @Produce      json
// @Success      200  {object}  feeds.Discovery
// @Router       /api/feeds [get]
func (h *Handlers) Discovery(c *gin.Context) {
	c.JSON(http.StatusOK, feeds.Describe(h.baseURL, h.tokenRequired))
}
