package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/overseer-lite/overseer-lite/internal/auth"
	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/crypto"
	"github.com/overseer-lite/overseer-lite/internal/reconcile"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	badgerstore "github.com/overseer-lite/overseer-lite/internal/store/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeBlobs struct{ statErr error }

func (b fakeBlobs) Put(context.Context, string, []byte, storage.PutOptions) (*storage.ObjectInfo, error) {
	return &storage.ObjectInfo{}, nil
}

func (b fakeBlobs) Get(context.Context, string) ([]byte, *storage.ObjectInfo, error) {
	return nil, nil, storage.ErrNotFound
}

func (b fakeBlobs) Delete(context.Context, string) error { return nil }

func (b fakeBlobs) Stat(context.Context, string) (*storage.ObjectInfo, error) {
	return nil, b.statErr
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	r := gin.New()
	r.GET("/api/health", healthCheckHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" || body["service"] != "overseer-lite" {
		t.Errorf("body = %v, want healthy overseer-lite", body)
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		store      fakePinger
		blobs      storage.Storage
		wantStatus int
		wantChecks map[string]interface{}
	}{
		{
			name:       "store only",
			wantStatus: http.StatusOK,
			wantChecks: map[string]interface{}{"store": "healthy"},
		},
		{
			name:       "missing probe object is healthy",
			blobs:      fakeBlobs{statErr: storage.ErrNotFound},
			wantStatus: http.StatusOK,
			wantChecks: map[string]interface{}{"store": "healthy", "storage": "healthy"},
		},
		{
			name:       "store down",
			store:      fakePinger{err: errors.New("connection refused")},
			blobs:      fakeBlobs{},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]interface{}{"store": "unhealthy"},
		},
		{
			name:       "storage down",
			blobs:      fakeBlobs{statErr: errors.New("access denied")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]interface{}{"store": "healthy", "storage": "unhealthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(tt.store, tt.blobs))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeBody(t, w)
			if body["ready"] != (tt.wantStatus == http.StatusOK) {
				t.Errorf("ready = %v", body["ready"])
			}
			if !reflect.DeepEqual(body["checks"], tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body["checks"], tt.wantChecks)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

const (
	testPassword   = "hunter2"
	testIterations = crypto.MinIterations
)

func newTestRouter(t *testing.T, mutate func(cfg *config.Config)) *gin.Engine {
	t.Helper()

	st, err := badgerstore.Open(config.BadgerStoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("badgerstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://overseer.test"
	if mutate != nil {
		mutate(cfg)
	}

	svc := auth.NewService(
		auth.NewChallengeVerifier(testPassword, testIterations, 0),
		auth.NewTokenCodec("router-test-secret"),
		st,
		auth.DefaultRateLimitPolicy(),
	)
	rec := reconcile.New(st, reconcile.NewResolver(st, nil, nil), reconcile.Options{})

	router, bg := NewRouter(cfg, Dependencies{
		Store:      st,
		Auth:       svc,
		Reconciler: rec,
	})
	t.Cleanup(bg.Shutdown)
	return router
}

func login(t *testing.T, router *gin.Engine) string {
	t.Helper()
	const origin = "http://overseer.test"
	ts := time.Now().Unix()
	proof := crypto.BuildProof(crypto.DeriveKey(testPassword, origin, testIterations), ts)

	payload := `{"origin":"` + origin + `","timestamp":` + strconv.FormatInt(ts, 10) +
		`,"hash":"` + proof + `","name":"Alice"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestNewRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/api/health", "/ready", "/api/auth/params", "/api/feeds"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusOK {
				t.Errorf("GET %s = %d, want 200", path, w.Code)
			}
		})
	}
}

func TestNewRouter_SessionRequired(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/requests", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}

	token := login(t, router)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("session status = %d, want 200", w.Code)
	}
	if _, ok := decodeBody(t, w)["requests"]; !ok {
		t.Error("response has no requests field")
	}
}

func TestNewRouter_CatalogUnconfigured(t *testing.T) {
	router := newTestRouter(t, nil)
	token := login(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"dune"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNewRouter_FeedToken(t *testing.T) {
	t.Run("open when unset", func(t *testing.T) {
		router := newTestRouter(t, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list/radarr", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("enforced when set", func(t *testing.T) {
		router := newTestRouter(t, func(cfg *config.Config) { cfg.Feeds.Token = "feed-secret" })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list/sonarr", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("without token status = %d, want 401", w.Code)
		}

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list/sonarr?token=feed-secret", nil))
		if w.Code != http.StatusOK {
			t.Errorf("with token status = %d, want 200", w.Code)
		}
	})
}

func TestNewRouter_WebhookTokenAlwaysRequired(t *testing.T) {
	t.Run("rejected when no token configured", func(t *testing.T) {
		router := newTestRouter(t, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/plex", strings.NewReader("{}")))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		router := newTestRouter(t, func(cfg *config.Config) { cfg.Plex.WebhookToken = "plex-secret" })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync/library?media_type=movie&token=nope", strings.NewReader("[]")))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("sync with token", func(t *testing.T) {
		router := newTestRouter(t, func(cfg *config.Config) { cfg.Plex.WebhookToken = "plex-secret" })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sync/library?media_type=movie&token=plex-secret",
			strings.NewReader(`[{"tmdb_id":603,"title":"The Matrix"}]`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
	})
}

// verifyFrom posts a login proof from the test socket peer (192.0.2.1) with
// the given X-Forwarded-For header.
func verifyFrom(router *gin.Engine, forwardedFor, password string) int {
	const origin = "http://overseer.test"
	ts := time.Now().Unix()
	proof := crypto.BuildProof(crypto.DeriveKey(password, origin, testIterations), ts)
	payload := `{"origin":"` + origin + `","timestamp":` + strconv.FormatInt(ts, 10) +
		`,"hash":"` + proof + `","name":"Mallory"}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	router.ServeHTTP(w, req)
	return w.Code
}

func TestNewRouter_LoginThrottleIgnoresForgedForwardedFor(t *testing.T) {
	router := newTestRouter(t, nil)

	for i := 0; i < auth.DefaultRateLimitPolicy().MaxAttempts; i++ {
		xff := "10.9.9." + strconv.Itoa(i+1)
		if code := verifyFrom(router, xff, "wrong"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, code)
		}
	}

	if code := verifyFrom(router, "10.1.2.3", testPassword); code != http.StatusTooManyRequests {
		t.Errorf("fresh X-Forwarded-For after lockout: status = %d, want 429", code)
	}
}

func TestNewRouter_TrustedProxyForwardedFor(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.Security.TrustedProxies = []string{"192.0.2.0/24"}
	})

	for i := 0; i < auth.DefaultRateLimitPolicy().MaxAttempts; i++ {
		if code := verifyFrom(router, "10.9.9.9", "wrong"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, code)
		}
	}

	tests := []struct {
		name string
		xff  string
		want int
	}{
		{"locked out client", "10.9.9.9", http.StatusTooManyRequests},
		{"other client behind the proxy", "10.1.2.3", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := verifyFrom(router, tt.xff, testPassword); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}
