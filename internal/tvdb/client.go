// Package tvdb is a minimal TheTVDB v4 client used to map an episode to its
// series when a webhook carries nothing else that can be resolved.
//
// The bearer token returned by /login is valid for about a month. It is kept
// in memory, and sealed in the settings store so that other replicas and
// restarted processes reuse it instead of logging in again.
package tvdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/crypto"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/upstream"
)

const (
	// fallbackTokenLifetime applies when the token carries no exp claim.
	fallbackTokenLifetime = 29 * 24 * time.Hour
	// refreshMargin renews a token this long before it expires.
	refreshMargin = time.Hour
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("tvdb: api key not configured")

// SettingsStore persists the sealed bearer token.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Client talks to the TVDB v4 API
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	settings SettingsStore
	cipher   *crypto.TokenCipher
	breaker  *upstream.Breaker
	login    singleflight.Group
	now      func() time.Time

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// New creates a client. settings and cipher may be nil, in which case the
// token lives in memory only.
func New(cfg config.TVDBConfig, settings SettingsStore, cipher *crypto.TokenCipher) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		settings: settings,
		cipher:   cipher,
		breaker:  upstream.NewBreaker("tvdb"),
		now:      time.Now,
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// SeriesIDForEpisode returns the TVDB series id of an episode, or 0 when
// TVDB does not know the episode.
func (c *Client) SeriesIDForEpisode(ctx context.Context, episodeID int64) (int64, error) {
	if !c.Enabled() {
		return 0, ErrNotConfigured
	}

	var body struct {
		Data struct {
			SeriesID int64 `json:"seriesId"`
		} `json:"data"`
	}
	err := c.authorized(ctx, "episode", func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/episodes/"+strconv.FormatInt(episodeID, 10), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return upstream.DoJSON(c.http, "tvdb", req, &body)
	})
	if errors.Is(err, upstream.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return body.Data.SeriesID, nil
}

// authorized runs call with a valid token, logging in again once if the
// token is rejected.
func (c *Client) authorized(ctx context.Context, operation string, call func(token string) error) error {
	token, err := c.bearer(ctx, "")
	if err != nil {
		return err
	}

	_, err = upstream.Call(c.breaker, operation, func() (struct{}, error) {
		return struct{}{}, call(token)
	})
	if !upstream.IsUnauthorized(err) {
		return err
	}

	slog.Info("tvdb rejected bearer token, logging in again")
	c.forget(token)
	if token, err = c.bearer(ctx, token); err != nil {
		return err
	}
	_, err = upstream.Call(c.breaker, operation, func() (struct{}, error) {
		return struct{}{}, call(token)
	})
	return err
}

// bearer returns a usable token from memory, the settings store, or a
// fresh login, in that order. A non-empty rejected token is never returned,
// even when the store still holds it. Concurrent callers share one login.
func (c *Client) bearer(ctx context.Context, rejected string) (string, error) {
	if token, ok := c.cached(); ok && token != rejected {
		return token, nil
	}

	key := "token"
	if rejected != "" {
		key = "refresh"
	}
	v, err, _ := c.login.Do(key, func() (interface{}, error) {
		if token, ok := c.cached(); ok && token != rejected {
			return token, nil
		}
		if token, ok := c.loadStored(ctx, rejected); ok {
			return token, nil
		}
		return c.doLogin(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" && c.now().Before(c.expires.Add(-refreshMargin)) {
		return c.token, true
	}
	return "", false
}

func (c *Client) remember(token string) bool {
	expires := tokenExpiry(token, c.now())
	if !c.now().Before(expires.Add(-refreshMargin)) {
		return false
	}
	c.mu.Lock()
	c.token, c.expires = token, expires
	c.mu.Unlock()
	return true
}

func (c *Client) forget(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token, c.expires = "", time.Time{}
	}
	c.mu.Unlock()
}

func (c *Client) loadStored(ctx context.Context, rejected string) (string, bool) {
	if c.settings == nil || c.cipher == nil {
		return "", false
	}
	sealed, ok, err := c.settings.GetSetting(ctx, models.SettingTVDBToken)
	if err != nil || !ok {
		return "", false
	}
	token, err := c.cipher.Open(models.SettingTVDBToken, sealed)
	if err != nil || token == "" {
		slog.Warn("discarding unreadable stored tvdb token", "error", err)
		return "", false
	}
	if token == rejected {
		return "", false
	}
	if !c.remember(token) {
		return "", false
	}
	return token, true
}

func (c *Client) doLogin(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"apikey": c.apiKey})
	if err != nil {
		return "", err
	}

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	_, err = upstream.Call(c.breaker, "login", func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		return struct{}{}, upstream.DoJSON(c.http, "tvdb", req, &body)
	})
	if err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	token := body.Data.Token
	if token == "" {
		return "", errors.New("tvdb login: empty token in response")
	}
	c.remember(token)

	if c.settings != nil && c.cipher != nil {
		sealed, err := c.cipher.Seal(models.SettingTVDBToken, token)
		if err == nil {
			err = c.settings.SetSetting(ctx, models.SettingTVDBToken, sealed)
		}
		if err != nil {
			slog.Warn("failed to persist tvdb token", "error", err)
		}
	}
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is only ever presented back to its issuer.
func tokenExpiry(token string, now time.Time) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return now.Add(fallbackTokenLifetime)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(fallbackTokenLifetime)
	}
	return exp.Time
}
