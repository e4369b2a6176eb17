// Package requests implements the session-authenticated catalogue API used by
// the web client: search, adding and removing requests, the request list,
// library status and trending titles.
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/jobs"
	"github.com/overseer-lite/overseer-lite/internal/middleware"
	"github.com/overseer-lite/overseer-lite/internal/store"
	"github.com/overseer-lite/overseer-lite/internal/tmdb"
)

// Catalog is the TMDB surface the handlers use. Satisfied by *tmdb.Client.
type Catalog interface {
	Enabled() bool
	Search(ctx context.Context, query string, kind models.Kind, page int) (*tmdb.Page, error)
	Details(ctx context.Context, kind models.Kind, id int64) (*tmdb.Details, error)
	SeasonCounts(ctx context.Context, showIDs []int64) map[int64]int
	Trending(ctx context.Context, mediaType, language string) (*tmdb.Page, error)
}

// Store is the persistence the handlers need.
type Store interface {
	AddRequest(ctx context.Context, req *models.Request) (bool, error)
	RemoveRequest(ctx context.Context, kind models.Kind, tmdbID int64) error
	GetRequest(ctx context.Context, kind models.Kind, tmdbID int64) (*models.Request, error)
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]*models.Request, error)
	IsInLibrary(ctx context.Context, kind models.Kind, tmdbID int64) (bool, error)
	LibraryIDs(ctx context.Context, kind models.Kind) ([]int64, error)
}

// TrendingLoader reads pre-warmed trending lists. Satisfied by *jobs.TrendingCache.
type TrendingLoader interface {
	Load(ctx context.Context, mediaType, locale string) (*jobs.TrendingList, error)
}

// Handlers serves the /api catalogue routes.
type Handlers struct {
	catalog  Catalog
	store    Store
	trending TrendingLoader
}

// NewHandlers creates the handlers. trending may be nil, in which case
// trending lists are always fetched live.
func NewHandlers(catalog Catalog, st Store, trending TrendingLoader) *Handlers {
	return &Handlers{catalog: catalog, store: st, trending: trending}
}

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query     string `json:"query" binding:"required"`
	MediaType string `json:"media_type"`
	Page      int    `json:"page"`
}

// SearchResult is one annotated search hit.
type SearchResult struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Year            *int    `json:"year"`
	Overview        string  `json:"overview"`
	PosterPath      *string `json:"poster_path"`
	MediaType       string  `json:"media_type"`
	VoteAverage     float64 `json:"vote_average"`
	Requested       bool    `json:"requested"`
	InLibrary       bool    `json:"in_library"`
	NumberOfSeasons *int    `json:"number_of_seasons"`
}

// SearchResponse is a page of annotated search hits.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	Page         int            `json:"page"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

func (h *Handlers) requireCatalog(c *gin.Context) bool {
	if h.catalog == nil || !h.catalog.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "TMDB is not configured"})
		return false
	}
	return true
}

func upstreamError(c *gin.Context, operation string, err error) {
	slog.Error("tmdb call failed", "operation", operation, "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach TMDB"})
}

func storeError(c *gin.Context, operation string, err error) {
	slog.Error("store operation failed", "operation", operation, "error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
}

// status reports whether a title is requested and whether it is in the library.
func (h *Handlers) status(ctx context.Context, kind models.Kind, tmdbID int64) (requested, inLibrary bool, err error) {
	req, err := h.store.GetRequest(ctx, kind, tmdbID)
	if err != nil {
		return false, false, err
	}
	inLibrary, err = h.store.IsInLibrary(ctx, kind, tmdbID)
	if err != nil {
		return false, false, err
	}
	return req != nil, inLibrary, nil
}

// @Summary      Search TMDB
// @Description  Searches movies, shows or both and annotates each hit with its request and library status.
// @Tags         Requests
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        body  body  SearchRequest  true  "Search query"
// @Success      200  {object}  SearchResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      502  {object}  map[string]interface{}  "TMDB unreachable"
// @Router       /api/search [post]
func (h *Handlers) Search(c *gin.Context) {
	var body SearchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	var kind models.Kind
	if body.MediaType != "" {
		k, err := models.ParseKind(body.MediaType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kind = k
	}
	if !h.requireCatalog(c) {
		return
	}

	ctx := c.Request.Context()
	page, err := h.catalog.Search(ctx, body.Query, kind, body.Page)
	if err != nil {
		upstreamError(c, "search", err)
		return
	}

	resp := SearchResponse{
		Results:      make([]SearchResult, 0, len(page.Results)),
		Page:         max(page.Page, 1),
		TotalPages:   max(page.TotalPages, 1),
		TotalResults: page.TotalResults,
	}
	var showsToCount []int64
	for _, r := range page.Results {
		mediaType := r.MediaType
		if mediaType == "" {
			mediaType = string(models.KindMovie)
		}
		requested, inLibrary, err := h.status(ctx, models.Kind(mediaType), r.ID)
		if err != nil {
			storeError(c, "search status", err)
			return
		}
		resp.Results = append(resp.Results, SearchResult{
			ID:          r.ID,
			Title:       r.DisplayTitle(),
			Year:        r.Year(),
			Overview:    r.Overview,
			PosterPath:  r.PosterPath,
			MediaType:   mediaType,
			VoteAverage: r.VoteAverage,
			Requested:   requested,
			InLibrary:   inLibrary,
		})
		if mediaType == string(models.KindTV) && !requested && !inLibrary {
			showsToCount = append(showsToCount, r.ID)
		}
	}

	if len(showsToCount) > 0 {
		counts := h.catalog.SeasonCounts(ctx, showsToCount)
		for i := range resp.Results {
			item := &resp.Results[i]
			if n, ok := counts[item.ID]; ok && item.MediaType == string(models.KindTV) {
				item.NumberOfSeasons = &n
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CreateRequest is the body of POST /api/request.
type CreateRequest struct {
	TMDBID      int64  `json:"tmdb_id" binding:"required,gt=0"`
	MediaType   string `json:"media_type" binding:"required"`
	RequestedBy string `json:"requested_by"`
}

// @Summary      Request a title
// @Description  Adds a movie or show to the request list, enriched with TMDB details and external ids.
// @Tags         Requests
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        body  body  CreateRequest  true  "Title to request"
// @Success      200  {object}  map[string]interface{}  "success, message"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Title not found on TMDB"
// @Router       /api/request [post]
func (h *Handlers) Create(c *gin.Context) {
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tmdb_id and media_type are required"})
		return
	}
	kind, err := models.ParseKind(body.MediaType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.requireCatalog(c) {
		return
	}

	ctx := c.Request.Context()
	details, err := h.catalog.Details(ctx, kind, body.TMDBID)
	if errors.Is(err, tmdb.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Title not found on TMDB"})
		return
	}
	if err != nil {
		upstreamError(c, "details", err)
		return
	}

	req := &models.Request{
		Kind:       kind,
		TMDBID:     body.TMDBID,
		Title:      details.DisplayTitle(),
		Year:       details.Year(),
		PosterPath: details.PosterPath,
		IMDbID:     details.ExternalIDs.IMDbID,
	}
	if req.Title == "" {
		req.Title = "Unknown"
	}
	if details.Overview != "" {
		req.Overview = &details.Overview
	}
	if kind == models.KindTV {
		req.TVDBID = details.ExternalIDs.TVDBID
	}
	requestedBy := body.RequestedBy
	if requestedBy == "" {
		if session := middleware.GetSession(c); session != nil && session.HasName {
			requestedBy = session.DisplayName
		}
	}
	if requestedBy != "" {
		req.RequestedBy = &requestedBy
	}

	added, err := h.store.AddRequest(ctx, req)
	if err != nil {
		storeError(c, "add request", err)
		return
	}
	if !added {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Item may already be requested"})
		return
	}

	slog.Info("request added", "media_type", kind, "tmdb_id", body.TMDBID, "title", req.Title, "requested_by", requestedBy)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("Added %s to requests", req.Title)})
}

// @Summary      Remove a request
// @Tags         Requests
// @Produce      json
// @Security     Bearer
// @Param        media_type  path  string  true  "movie or tv"
// @Param        tmdb_id     path  int     true  "TMDB id"
// @Success      200  {object}  map[string]interface{}  "success, message"
// @Failure      404  {object}  map[string]interface{}  "Request not found"
// @Router       /api/request/{media_type}/{tmdb_id} [delete]
func (h *Handlers) Delete(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("media_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tmdbID, err := strconv.ParseInt(c.Param("tmdb_id"), 10, 64)
	if err != nil || tmdbID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tmdb_id must be a positive integer"})
		return
	}

	err = h.store.RemoveRequest(c.Request.Context(), kind, tmdbID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	if err != nil {
		storeError(c, "remove request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Request removed"})
}

// @Summary      List requests
// @Description  Returns every request, newest first, optionally filtered by media type.
// @Tags         Requests
// @Produce      json
// @Security     Bearer
// @Param        media_type  query  string  false  "movie or tv"
// @Success      200  {object}  map[string]interface{}  "requests"
// @Router       /api/requests [get]
func (h *Handlers) List(c *gin.Context) {
	var filter store.RequestFilter
	if mt := c.Query("media_type"); mt != "" {
		kind, err := models.ParseKind(mt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Kind = kind
	}

	reqs, err := h.store.ListRequests(c.Request.Context(), filter)
	if err != nil {
		storeError(c, "list requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// @Summary      Library status
// @Description  Returns library TMDB ids by media type and every pending request, for client-side caching.
// @Tags         Requests
// @Produce      json
// @Security     Bearer
// @Success      200  {object}  map[string]interface{}  "library, requests"
// @Router       /api/library-status [get]
func (h *Handlers) LibraryStatus(c *gin.Context) {
	ctx := c.Request.Context()
	library := make(map[models.Kind][]int64, 2)
	for _, kind := range []models.Kind{models.KindMovie, models.KindTV} {
		ids, err := h.store.LibraryIDs(ctx, kind)
		if err != nil {
			storeError(c, "library ids", err)
			return
		}
		library[kind] = ids
	}

	pending, err := h.store.ListRequests(ctx, store.RequestFilter{PendingOnly: true})
	if err != nil {
		storeError(c, "pending requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"library": library, "requests": pending})
}

// TrendingResult is a trending entry annotated with its request status.
type TrendingResult struct {
	jobs.TrendingItem
	Requested bool `json:"requested"`
	InLibrary bool `json:"in_library"`
}

// @Summary      Trending titles
// @Description  Returns this week's trending titles, from the warmed cache when available.
// @Tags         Requests
// @Produce      json
// @Security     Bearer
// @Param        media_type  query  string  false  "all, movie or tv (default all)"
// @Param        language    query  string  false  "TMDB language (default en)"
// @Success      200  {object}  map[string]interface{}  "results, cached"
// @Failure      502  {object}  map[string]interface{}  "TMDB unreachable"
// @Router       /api/trending [get]
func (h *Handlers) Trending(c *gin.Context) {
	mediaType := c.DefaultQuery("media_type", "all")
	switch mediaType {
	case "all", "movie", "tv":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "media_type must be 'all', 'movie' or 'tv'"})
		return
	}
	language := c.DefaultQuery("language", "en")
	ctx := c.Request.Context()

	var list *jobs.TrendingList
	if h.trending != nil {
		cached, err := h.trending.Load(ctx, mediaType, language)
		if err != nil {
			slog.Warn("trending cache read failed", "media_type", mediaType, "language", language, "error", err)
		}
		list = cached
	}
	cached := list != nil
	if list == nil {
		if !h.requireCatalog(c) {
			return
		}
		page, err := h.catalog.Trending(ctx, mediaType, language)
		if err != nil {
			upstreamError(c, "trending", err)
			return
		}
		list = jobs.NormalizeTrending(page, mediaType)
	}

	results := make([]TrendingResult, 0, len(list.Results))
	for _, item := range list.Results {
		requested, inLibrary, err := h.status(ctx, models.Kind(item.MediaType), item.ID)
		if err != nil {
			storeError(c, "trending status", err)
			return
		}
		results = append(results, TrendingResult{TrendingItem: item, Requested: requested, InLibrary: inLibrary})
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "cached": cached})
}
