// trending.go implements TrendingCache, the blob-backed copy of TMDB's weekly
// trending lists, and TrendingWarmer, the ticker job that refreshes it.
//
// Blobs live at trending/{trending_key}/trending-{type}-{locale}.json. The
// trending_key is generated once per deployment and stored in the settings
// store, so several deployments can share one bucket without clobbering each
// other.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/internal/telemetry"
	"github.com/overseer-lite/overseer-lite/internal/tmdb"
)

// TrendingKeySetting is the settings key holding the blob namespace.
const TrendingKeySetting = "trending_key"

// TrendingTypes are the media types warmed for every locale.
var TrendingTypes = []string{"all", "movie", "tv"}

// TrendingItem is one normalized trending entry.
type TrendingItem struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Year        *int    `json:"year"`
	Overview    string  `json:"overview,omitempty"`
	PosterPath  *string `json:"poster_path"`
	MediaType   string  `json:"media_type"`
	VoteAverage float64 `json:"vote_average"`
}

// TrendingList is the document stored per (type, locale).
type TrendingList struct {
	Results []TrendingItem `json:"results"`
}

// NormalizeTrending keeps the fields clients use. Entries without a media
// type take mediaType, or "movie" for the mixed list.
func NormalizeTrending(page *tmdb.Page, mediaType string) *TrendingList {
	fallback := mediaType
	if fallback == "all" || fallback == "" {
		fallback = "movie"
	}

	list := &TrendingList{Results: make([]TrendingItem, 0, len(page.Results))}
	for _, r := range page.Results {
		if r.MediaType == "person" {
			continue
		}
		itemType := r.MediaType
		if itemType == "" {
			itemType = fallback
		}
		list.Results = append(list.Results, TrendingItem{
			ID:          r.ID,
			Title:       r.DisplayTitle(),
			Year:        r.Year(),
			Overview:    r.Overview,
			PosterPath:  r.PosterPath,
			MediaType:   itemType,
			VoteAverage: r.VoteAverage,
		})
	}
	return list
}

// TrendingPath returns the blob path of one list.
func TrendingPath(key, mediaType, locale string) string {
	return fmt.Sprintf("trending/%s/trending-%s-%s.json", key, mediaType, locale)
}

// KeyStore is the settings operation TrendingCache needs.
type KeyStore interface {
	SetSettingIfAbsent(ctx context.Context, key, value string) (string, error)
}

// TrendingCache reads and writes trending lists in blob storage.
type TrendingCache struct {
	blobs    storage.Storage
	settings KeyStore

	mu  sync.Mutex
	key string
}

// NewTrendingCache creates a cache over blobs. settings holds the namespace key.
func NewTrendingCache(blobs storage.Storage, settings KeyStore) *TrendingCache {
	return &TrendingCache{blobs: blobs, settings: settings}
}

// Key returns the deployment's blob namespace, creating it on first use.
func (c *TrendingCache) Key(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != "" {
		return c.key, nil
	}
	candidate := strings.ReplaceAll(uuid.NewString(), "-", "")
	key, err := c.settings.SetSettingIfAbsent(ctx, TrendingKeySetting, candidate)
	if err != nil {
		return "", fmt.Errorf("load trending key: %w", err)
	}
	c.key = key
	return key, nil
}

// Load returns a cached list, or nil when none has been written yet.
func (c *TrendingCache) Load(ctx context.Context, mediaType, locale string) (*TrendingList, error) {
	key, err := c.Key(ctx)
	if err != nil {
		return nil, err
	}
	data, _, err := c.blobs.Get(ctx, TrendingPath(key, mediaType, locale))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list TrendingList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode trending blob: %w", err)
	}
	return &list, nil
}

// Save writes one list.
func (c *TrendingCache) Save(ctx context.Context, mediaType, locale string, list *TrendingList) error {
	key, err := c.Key(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = c.blobs.Put(ctx, TrendingPath(key, mediaType, locale), data, storage.PutOptions{
		ContentType:  "application/json",
		CacheControl: "public, max-age=3600",
	})
	return err
}

// TrendingSource fetches live trending pages.
type TrendingSource interface {
	Trending(ctx context.Context, mediaType, language string) (*tmdb.Page, error)
}

// TrendingWarmer periodically refreshes every (type, locale) list.
type TrendingWarmer struct {
	source   TrendingSource
	cache    *TrendingCache
	locales  []string
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTrendingWarmer creates a warmer. An empty locale list warms "en" only.
func NewTrendingWarmer(source TrendingSource, cache *TrendingCache, cfg config.TrendingWarmerConfig) *TrendingWarmer {
	locales := cfg.Locales
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &TrendingWarmer{
		source:   source,
		cache:    cache,
		locales:  locales,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start warms immediately and then on every tick until ctx is cancelled or
// Stop is called. It blocks; run it in a goroutine.
func (w *TrendingWarmer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("trending warmer started", "interval", w.interval, "locales", w.locales)
	w.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopChan:
			slog.Info("trending warmer stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (w *TrendingWarmer) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// RunOnce refreshes every list and returns how many failed. A failed list
// keeps its previous blob.
func (w *TrendingWarmer) RunOnce(ctx context.Context) int {
	start := time.Now()
	defer func() { telemetry.TrendingWarmDuration.Observe(time.Since(start).Seconds()) }()

	failed := 0
	for _, locale := range w.locales {
		for _, mediaType := range TrendingTypes {
			if err := w.warm(ctx, mediaType, locale); err != nil {
				failed++
				telemetry.TrendingWarmErrorsTotal.WithLabelValues(mediaType).Inc()
				slog.Warn("trending warm failed", "media_type", mediaType, "locale", locale, "error", err)
			}
		}
	}
	slog.Info("trending warm complete", "lists", len(w.locales)*len(TrendingTypes), "failed", failed,
		"duration", time.Since(start))
	return failed
}

func (w *TrendingWarmer) warm(ctx context.Context, mediaType, locale string) error {
	page, err := w.source.Trending(ctx, mediaType, locale)
	if err != nil {
		return err
	}
	return w.cache.Save(ctx, mediaType, locale, NormalizeTrending(page, mediaType))
}
