// @title           Overseer Lite API
// @version         1.0.0
// @description     Self-hosted media request tracker: shared-password login, TMDB search, Radarr/Sonarr lists and Plex reconciliation.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Session token from POST /api/auth/verify: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and readiness endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default 9090) at GET /metrics, outside the Gin router.

// Package main is the entry point for the overseer-lite server binary. It
// dispatches serve, migrate and version on os.Args.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/overseer-lite/overseer-lite/internal/api"
	"github.com/overseer-lite/overseer-lite/internal/auth"
	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/crypto"
	"github.com/overseer-lite/overseer-lite/internal/db"
	"github.com/overseer-lite/overseer-lite/internal/jobs"
	"github.com/overseer-lite/overseer-lite/internal/notify"
	"github.com/overseer-lite/overseer-lite/internal/reconcile"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/internal/store"
	"github.com/overseer-lite/overseer-lite/internal/store/postgres"
	redisstore "github.com/overseer-lite/overseer-lite/internal/store/redis"
	"github.com/overseer-lite/overseer-lite/internal/telemetry"
	"github.com/overseer-lite/overseer-lite/internal/tmdb"
	"github.com/overseer-lite/overseer-lite/internal/tvdb"

	// Store and blob backends register themselves.
	_ "github.com/overseer-lite/overseer-lite/internal/storage/azure"
	_ "github.com/overseer-lite/overseer-lite/internal/storage/gcs"
	_ "github.com/overseer-lite/overseer-lite/internal/storage/local"
	_ "github.com/overseer-lite/overseer-lite/internal/storage/s3"
	_ "github.com/overseer-lite/overseer-lite/internal/store/badger"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// A .env file is optional; real environment variables win.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("overseer-lite v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	if pg, ok := st.(*postgres.Store); ok {
		telemetry.StartDBStatsCollector(pg.DB().DB)
	}
	slog.Info("store opened", "backend", cfg.Store.Backend)

	var redisClient goredis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		st = redisstore.Wrap(st, redisClient, cfg.Redis.Prefix)
		slog.Info("redis overlay enabled", "addr", cfg.Redis.Addr)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close failed", "error", err)
		}
	}()

	// Upstream clients
	cipher, err := crypto.SettingsCipher(cfg.Auth.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to derive settings cipher: %w", err)
	}
	tvdbClient := tvdb.New(cfg.TVDB, st, cipher)
	tmdbClient := tmdb.New(cfg.TMDB)
	if !tmdbClient.Enabled() {
		slog.Warn("TMDB API key not set; search and request creation are disabled")
	}

	// Notifications and reconciliation
	notifier, closer, err := notify.FromConfig(cfg.Notifications, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to configure notifications: %w", err)
	}
	defer closer.Close()

	reconciler := reconcile.New(st, reconcile.NewResolver(st, tvdbClient, tmdbClient), reconcile.Options{
		ServerName: cfg.Plex.ServerName,
		Notifier:   notifier,
		ImageURL:   tmdbClient.ImageURL,
	})

	// Login
	policy := auth.RateLimitPolicy{
		Enabled:     cfg.Auth.RateLimit.Enabled,
		MaxAttempts: cfg.Auth.RateLimit.MaxAttempts,
		Window:      cfg.Auth.RateLimit.Window,
	}
	authService := auth.NewService(
		auth.NewChallengeVerifier(cfg.Auth.PresharedPassword, cfg.Auth.Iterations, cfg.Auth.ChallengeWindow),
		auth.NewTokenCodec(cfg.Auth.SecretKey).WithLifetime(cfg.Auth.SessionDuration),
		st,
		policy,
	)

	// Blob cache
	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise %s storage: %w", cfg.Storage.DefaultBackend, err)
	}
	slog.Info("blob storage ready", "backend", cfg.Storage.DefaultBackend)

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bgServices := api.NewRouter(cfg, api.Dependencies{
		Store:      st,
		Auth:       authService,
		Catalog:    tmdbClient,
		Reconciler: reconciler,
		Blobs:      blobs,
		Trending:   jobs.NewTrendingCache(blobs, st),
		Redis:      redisClient,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"tls", cfg.Security.TLS.Enabled,
		)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			bgServices.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// serveMetrics exposes /metrics on its own port so the scrape path stays off
// the public listener.
func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting Prometheus metrics server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("migrations only apply to the postgres store (store.backend=%s)", cfg.Store.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}
