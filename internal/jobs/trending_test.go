package jobs

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/storage/local"
	"github.com/overseer-lite/overseer-lite/internal/tmdb"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeKeyStore struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
	err    error
}

func (f *fakeKeyStore) SetSettingIfAbsent(_ context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	if existing, ok := f.values[key]; ok {
		return existing, nil
	}
	f.values[key] = value
	return value, nil
}

type fakeSource struct {
	mu    sync.Mutex
	pages map[string]*tmdb.Page
	fail  map[string]bool
	calls []string
}

func (f *fakeSource) Trending(_ context.Context, mediaType, language string) (*tmdb.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mediaType+"/"+language)
	if f.fail[mediaType] {
		return nil, errors.New("upstream unavailable")
	}
	if p, ok := f.pages[mediaType]; ok {
		return p, nil
	}
	return &tmdb.Page{Page: 1}, nil
}

func strPtr(s string) *string { return &s }

func newTestCache(t *testing.T) (*TrendingCache, *fakeKeyStore) {
	t.Helper()
	blobs, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	keys := &fakeKeyStore{}
	return NewTrendingCache(blobs, keys), keys
}

func mustLoad(t *testing.T, cache *TrendingCache, mediaType, language string) *TrendingList {
	t.Helper()
	list, err := cache.Load(context.Background(), mediaType, language)
	if err != nil {
		t.Fatalf("Load(%s, %s) error: %v", mediaType, language, err)
	}
	return list
}

// ---------------------------------------------------------------------------
// NormalizeTrending
// ---------------------------------------------------------------------------

func TestNormalizeTrending(t *testing.T) {
	page := &tmdb.Page{Results: []tmdb.Result{
		{ID: 27205, MediaType: "movie", Title: "Inception", ReleaseDate: "2010-07-15", PosterPath: strPtr("/i.jpg"), VoteAverage: 8.4},
		{ID: 1399, MediaType: "tv", Name: "Game of Thrones", FirstAirDate: "2011-04-17"},
		{ID: 500, MediaType: "person", Name: "Someone"},
		{ID: 42, Title: "Untyped"},
	}}

	list := NormalizeTrending(page, "all")
	if len(list.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(list.Results))
	}

	first := list.Results[0]
	if first.Title != "Inception" || first.Year == nil || *first.Year != 2010 {
		t.Errorf("results[0] = %+v, want Inception (2010)", first)
	}
	if first.PosterPath == nil || *first.PosterPath != "/i.jpg" {
		t.Errorf("results[0] poster = %v, want /i.jpg", first.PosterPath)
	}

	if got := list.Results[1]; got.Title != "Game of Thrones" || got.MediaType != "tv" {
		t.Errorf("results[1] = %+v, want Game of Thrones (tv)", got)
	}

	// Mixed lists default untyped entries to movie.
	if got := list.Results[2]; got.MediaType != "movie" || got.Year != nil {
		t.Errorf("results[2] = %+v, want an undated movie", got)
	}
}

func TestNormalizeTrending_TypedListFillsMediaType(t *testing.T) {
	page := &tmdb.Page{Results: []tmdb.Result{{ID: 1, Name: "Show"}}}
	list := NormalizeTrending(page, "tv")
	if len(list.Results) != 1 || list.Results[0].MediaType != "tv" {
		t.Errorf("NormalizeTrending() = %+v, want one tv entry", list.Results)
	}
}

func TestTrendingPath(t *testing.T) {
	if got := TrendingPath("abc", "movie", "en"); got != "trending/abc/trending-movie-en.json" {
		t.Errorf("TrendingPath() = %q", got)
	}
}

// ---------------------------------------------------------------------------
// TrendingCache
// ---------------------------------------------------------------------------

func TestTrendingCache_KeyIsStable(t *testing.T) {
	cache, keys := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Key(ctx)
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}
	if len(first) != 32 {
		t.Errorf("len(Key()) = %d, want 32", len(first))
	}

	second, err := cache.Key(ctx)
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}
	if first != second {
		t.Errorf("Key() changed: %q -> %q", first, second)
	}
	if keys.calls != 1 {
		t.Errorf("store lookups = %d, want 1; the key is memoised", keys.calls)
	}
}

func TestTrendingCache_KeyReusesStoredValue(t *testing.T) {
	cache, keys := newTestCache(t)
	keys.values = map[string]string{TrendingKeySetting: "existing"}

	key, err := cache.Key(context.Background())
	if err != nil || key != "existing" {
		t.Errorf("Key() = %q, %v, want existing", key, err)
	}
}

func TestTrendingCache_KeyError(t *testing.T) {
	cache, keys := newTestCache(t)
	keys.err = errors.New("db down")

	if _, err := cache.Key(context.Background()); err == nil {
		t.Fatal("Key() error = nil with a failing store")
	}

	keys.err = nil
	key, err := cache.Key(context.Background())
	if err != nil || key == "" {
		t.Errorf("Key() after recovery = %q, %v; a failed lookup is retried", key, err)
	}
}

func TestTrendingCache_LoadMiss(t *testing.T) {
	cache, _ := newTestCache(t)
	if list := mustLoad(t, cache, "movie", "en"); list != nil {
		t.Errorf("Load() = %+v, want nil on a miss", list)
	}
}

func TestTrendingCache_SaveLoad(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	in := &TrendingList{Results: []TrendingItem{{ID: 7, Title: "Seven", MediaType: "movie", VoteAverage: 8.6}}}
	if err := cache.Save(ctx, "movie", "en", in); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	out := mustLoad(t, cache, "movie", "en")
	if out == nil || !reflect.DeepEqual(out.Results, in.Results) {
		t.Errorf("Load() = %+v, want %+v", out, in)
	}
	if other := mustLoad(t, cache, "movie", "de"); other != nil {
		t.Errorf("Load(de) = %+v, want nil; locales are stored separately", other)
	}
}

// ---------------------------------------------------------------------------
// TrendingWarmer
// ---------------------------------------------------------------------------

func TestTrendingWarmer_RunOnceWarmsEveryList(t *testing.T) {
	cache, _ := newTestCache(t)
	source := &fakeSource{pages: map[string]*tmdb.Page{
		"movie": {Results: []tmdb.Result{{ID: 1, MediaType: "movie", Title: "A"}}},
	}}
	w := NewTrendingWarmer(source, cache, config.TrendingWarmerConfig{Interval: time.Hour, Locales: []string{"en", "fr"}})

	if failed := w.RunOnce(context.Background()); failed != 0 {
		t.Errorf("RunOnce() = %d failures, want 0", failed)
	}
	if len(source.calls) != 6 {
		t.Errorf("upstream calls = %v, want 6", source.calls)
	}

	list := mustLoad(t, cache, "movie", "fr")
	if list == nil || len(list.Results) != 1 || list.Results[0].Title != "A" {
		t.Errorf("Load(movie, fr) = %+v, want the warmed list", list)
	}
}

func TestTrendingWarmer_FailureKeepsPreviousBlob(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	previous := &TrendingList{Results: []TrendingItem{{ID: 9, Title: "Old", MediaType: "tv"}}}
	if err := cache.Save(ctx, "tv", "en", previous); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	source := &fakeSource{fail: map[string]bool{"tv": true}}
	w := NewTrendingWarmer(source, cache, config.TrendingWarmerConfig{})

	if failed := w.RunOnce(ctx); failed != 1 {
		t.Errorf("RunOnce() = %d failures, want 1", failed)
	}

	list := mustLoad(t, cache, "tv", "en")
	if list == nil || len(list.Results) == 0 || list.Results[0].Title != "Old" {
		t.Errorf("Load(tv, en) = %+v, want the previous blob", list)
	}
}

func TestNewTrendingWarmer_Defaults(t *testing.T) {
	cache, _ := newTestCache(t)
	w := NewTrendingWarmer(&fakeSource{}, cache, config.TrendingWarmerConfig{})
	if !slices.Equal(w.locales, []string{"en"}) {
		t.Errorf("locales = %v, want [en]", w.locales)
	}
	if w.interval != 6*time.Hour {
		t.Errorf("interval = %v, want 6h", w.interval)
	}
}

func TestTrendingWarmer_StartStop(t *testing.T) {
	cache, _ := newTestCache(t)
	source := &fakeSource{}
	w := NewTrendingWarmer(source, cache, config.TrendingWarmerConfig{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	// Start warms immediately.
	deadline := time.Now().Add(2 * time.Second)
	for {
		source.mu.Lock()
		n := len(source.calls)
		source.mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upstream calls = %d, want 3 right after Start", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.Stop()
	w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer did not stop")
	}
}

func TestTrendingWarmer_ContextCancel(t *testing.T) {
	cache, _ := newTestCache(t)
	w := NewTrendingWarmer(&fakeSource{}, cache, config.TrendingWarmerConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer ignored context cancellation")
	}
}
