// Package api wires together all HTTP routes for overseer-lite.
//
// Route groups and their guards:
//   - /api/auth/* and /api/health are public; login is additionally throttled
//     by a strict per-IP limiter and by the auth service's failure counter.
//   - The rest of /api requires a bearer session token.
//   - /list/* and /rss/* are polled by download managers and carry the feed
//     token as ?token= when one is configured.
//   - /webhook/plex and /sync/library always require the Plex webhook token.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	goredis "github.com/redis/go-redis/v9"

	"github.com/overseer-lite/overseer-lite/internal/api/lists"
	"github.com/overseer-lite/overseer-lite/internal/api/requests"
	"github.com/overseer-lite/overseer-lite/internal/api/session"
	"github.com/overseer-lite/overseer-lite/internal/api/webhooks"
	"github.com/overseer-lite/overseer-lite/internal/auth"
	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/feeds"
	"github.com/overseer-lite/overseer-lite/internal/jobs"
	"github.com/overseer-lite/overseer-lite/internal/middleware"
	"github.com/overseer-lite/overseer-lite/internal/reconcile"
	"github.com/overseer-lite/overseer-lite/internal/safego"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/internal/store"
	"github.com/overseer-lite/overseer-lite/internal/tmdb"
)

// attemptPruneInterval is how often expired login counters are deleted.
const attemptPruneInterval = time.Hour

// Dependencies are the services the router is built from. Blobs, Trending
// and Redis are optional.
type Dependencies struct {
	Store      store.Store
	Auth       *auth.Service
	Catalog    *tmdb.Client
	Reconciler *reconcile.Reconciler
	Blobs      storage.Storage
	Trending   *jobs.TrendingCache
	Redis      goredis.UniversalClient
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	trendingWarmer *jobs.TrendingWarmer
	attemptPruner  *jobs.AttemptPruner
	rateLimiters   []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.trendingWarmer != nil {
		bg.trendingWarmer.Stop()
	}
	if bg.attemptPruner != nil {
		bg.attemptPruner.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// newLimiter returns a Redis-backed limiter when a client is shared, else an
// in-memory one that is registered for shutdown.
func (bg *BackgroundServices) newLimiter(cfg *config.Config, client goredis.UniversalClient, rlc middleware.RateLimitConfig, name string) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisRateLimiter(redis_rate.NewLimiter(client), rlc, cfg.Redis.Prefix+"ratelimit:"+name+":")
	}
	rl := middleware.NewRateLimiter(rlc)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// NewRouter creates and configures the Gin router and starts background jobs.
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Login throttling keys on ClientIP, so forwarded headers are only
	// believed from configured proxies.
	if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		slog.Error("invalid trusted proxies; ignoring forwarded headers", "error", err)
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins))

	apiHeaders := middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled))
	feedHeaders := middleware.SecurityHeadersMiddleware(middleware.FeedSecurityHeadersConfig(cfg.Security.TLS.Enabled))

	var general gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		rlc := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			rlc.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			rlc.BurstSize = cfg.Security.RateLimiting.Burst
		}
		general = middleware.RateLimitMiddleware(bg.newLimiter(cfg, deps.Redis, rlc, "general"))
	}
	login := middleware.RateLimitMiddleware(bg.newLimiter(cfg, deps.Redis, middleware.LoginRateLimitConfig(), "login"))

	withLimit := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if general == nil {
			return handlers
		}
		return append([]gin.HandlerFunc{general}, handlers...)
	}

	// Health and readiness
	router.GET("/api/health", apiHeaders, healthCheckHandler())
	router.GET("/ready", apiHeaders, readinessHandler(deps.Store, deps.Blobs))

	// Login
	sessionHandlers := session.NewHandlers(deps.Auth)
	authGroup := router.Group("/api/auth", apiHeaders)
	{
		authGroup.GET("/params", sessionHandlers.Params)
		authGroup.POST("/verify", login, sessionHandlers.Verify)
	}

	// Session-authenticated catalogue API
	var trending requests.TrendingLoader
	if deps.Trending != nil {
		trending = deps.Trending
	}
	requestHandlers := requests.NewHandlers(deps.Catalog, deps.Store, trending)
	authed := router.Group("/api", withLimit(apiHeaders, middleware.SessionAuthMiddleware(deps.Auth))...)
	{
		authed.POST("/search", requestHandlers.Search)
		authed.POST("/request", requestHandlers.Create)
		authed.DELETE("/request/:media_type/:tmdb_id", requestHandlers.Delete)
		authed.GET("/requests", requestHandlers.List)
		authed.GET("/library-status", requestHandlers.LibraryStatus)
		authed.GET("/trending", requestHandlers.Trending)
	}

	// Download-manager feeds
	var imageURL feeds.ImageURLFunc
	if deps.Catalog != nil {
		imageURL = deps.Catalog.ImageURL
	}
	listHandlers := lists.NewHandlers(
		feeds.NewBuilder(deps.Store, imageURL),
		cfg.Server.BaseURL,
		cfg.Feeds.Token != "",
	)
	feedToken := middleware.QueryTokenMiddleware(middleware.QueryTokenConfig{Name: "Feed", Token: cfg.Feeds.Token})
	router.GET("/api/feeds", apiHeaders, listHandlers.Discovery)
	feedGroup := router.Group("", withLimit(feedHeaders, feedToken)...)
	{
		feedGroup.GET("/list/radarr", listHandlers.Radarr)
		feedGroup.GET("/list/sonarr", listHandlers.Sonarr)
		feedGroup.GET("/rss/:feed", listHandlers.RSS)
	}

	// Plex webhook and library sync
	plexHandler := webhooks.NewPlexHandler(deps.Reconciler)
	webhookToken := middleware.QueryTokenMiddleware(middleware.QueryTokenConfig{
		Name:     "Webhook",
		Token:    cfg.Plex.WebhookToken,
		Required: true,
	})
	plexGroup := router.Group("", apiHeaders, webhookToken)
	{
		plexGroup.POST("/webhook/plex", plexHandler.HandleWebhook)
		plexGroup.POST("/sync/library", plexHandler.SyncLibrary)
	}

	// Background jobs
	if cfg.Jobs.TrendingWarmer.Enabled && deps.Trending != nil && deps.Catalog.Enabled() {
		bg.trendingWarmer = jobs.NewTrendingWarmer(deps.Catalog, deps.Trending, cfg.Jobs.TrendingWarmer)
		warmer := bg.trendingWarmer
		safego.Go(func() { warmer.Start(context.Background()) })
	}
	bg.attemptPruner = jobs.NewAttemptPruner(deps.Store, attemptPruneInterval)
	pruner := bg.attemptPruner
	safego.Go(func() { pruner.Start(context.Background()) })

	return router, bg
}

// @Summary      Health check
// @Description  Liveness probe. Does not touch any dependency.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, service: overseer-lite"
// @Router       /api/health [get]
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "overseer-lite",
		})
	}
}

// Pinger is the store readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the store and, when configured, the blob backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. A missing
// probe object is the expected answer from a healthy blob backend.
func readinessHandler(st Pinger, blobs storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		checks := gin.H{}

		if err := st.Ping(ctx); err != nil {
			slog.Warn("readiness: store ping failed", "error", err)
			checks["store"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "store not ready",
			})
			return
		}
		checks["store"] = "healthy"

		if blobs != nil {
			if _, err := blobs.Stat(ctx, ".readiness-probe"); err != nil && !isNotFound(err) {
				slog.Warn("readiness: storage probe failed", "error", err)
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
