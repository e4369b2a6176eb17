// Package tmdb is a small client for The Movie Database v3 API covering
// search, details with external ids, trending lists and /find by TVDB id.
package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/upstream"
)

// ErrNotFound is returned when TMDB has no such title.
var ErrNotFound = upstream.ErrNotFound

// seasonFetchLimit bounds concurrent detail lookups during search.
const seasonFetchLimit = 6

// Result is one entry of a search or trending page.
type Result struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type,omitempty"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   *string `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
}

// DisplayTitle returns title for movies and name for shows.
func (r Result) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Name != "" {
		return r.Name
	}
	return "Unknown"
}

// Year returns the release or first-air year.
func (r Result) Year() *int {
	if r.ReleaseDate != "" {
		return ParseYear(r.ReleaseDate)
	}
	return ParseYear(r.FirstAirDate)
}

// Page is a paginated result list.
type Page struct {
	Page         int      `json:"page"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
	Results      []Result `json:"results"`
}

// ExternalIDs is the appended external_ids block.
type ExternalIDs struct {
	IMDbID *string `json:"imdb_id"`
	TVDBID *int64  `json:"tvdb_id"`
}

// Details is a movie or show with its external ids.
type Details struct {
	ID              int64       `json:"id"`
	Title           string      `json:"title,omitempty"`
	Name            string      `json:"name,omitempty"`
	ReleaseDate     string      `json:"release_date,omitempty"`
	FirstAirDate    string      `json:"first_air_date,omitempty"`
	Overview        string      `json:"overview"`
	PosterPath      *string     `json:"poster_path"`
	NumberOfSeasons *int        `json:"number_of_seasons,omitempty"`
	ExternalIDs     ExternalIDs `json:"external_ids"`
}

// DisplayTitle returns title for movies and name for shows.
func (d *Details) DisplayTitle() string {
	return Result{Title: d.Title, Name: d.Name}.DisplayTitle()
}

// Year returns the release or first-air year.
func (d *Details) Year() *int {
	return Result{ReleaseDate: d.ReleaseDate, FirstAirDate: d.FirstAirDate}.Year()
}

// ParseYear reads the year of a YYYY-MM-DD date.
func ParseYear(date string) *int {
	if len(date) < 4 {
		return nil
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y <= 0 {
		return nil
	}
	return &y
}

// Client talks to the TMDB API
type Client struct {
	baseURL   string
	apiKey    string
	imageBase string
	http      *http.Client
	breaker   *upstream.Breaker
}

// New creates a client from configuration
func New(cfg config.TMDBConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		imageBase: strings.TrimRight(cfg.ImageBase, "/"),
		http:      &http.Client{Timeout: timeout},
		breaker:   upstream.NewBreaker("tmdb"),
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// ImageURL builds a poster URL at the given size, e.g. "w300".
func (c *Client) ImageURL(size, path string) string {
	if path == "" {
		return ""
	}
	return c.imageBase + "/" + size + path
}

func (c *Client) get(ctx context.Context, operation, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	_, err := upstream.Call(c.breaker, operation, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, upstream.DoJSON(c.http, "tmdb", req, out)
	})
	return err
}

// Search searches one kind, or movies and shows together when kind is empty.
// People are dropped from multi-search results and every result carries its
// media type.
func (c *Client) Search(ctx context.Context, query string, kind models.Kind, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{"query": {query}, "page": {strconv.Itoa(page)}, "include_adult": {"false"}}

	endpoint := "/search/multi"
	switch kind {
	case models.KindMovie:
		endpoint = "/search/movie"
	case models.KindTV:
		endpoint = "/search/tv"
	}

	var p Page
	if err := c.get(ctx, "search", endpoint, params, &p); err != nil {
		return nil, err
	}

	results := p.Results[:0]
	for _, r := range p.Results {
		if r.MediaType == "person" {
			continue
		}
		if r.MediaType == "" {
			r.MediaType = string(kind)
		}
		results = append(results, r)
	}
	p.Results = results
	return &p, nil
}

// Details fetches a movie or show with external ids
func (c *Client) Details(ctx context.Context, kind models.Kind, id int64) (*Details, error) {
	endpoint := "/movie/"
	if kind == models.KindTV {
		endpoint = "/tv/"
	}
	var d Details
	params := url.Values{"append_to_response": {"external_ids"}}
	if err := c.get(ctx, "details", endpoint+strconv.FormatInt(id, 10), params, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SeasonCounts looks up the number of seasons of each show concurrently.
// Shows whose lookup fails are left out.
func (c *Client) SeasonCounts(ctx context.Context, showIDs []int64) map[int64]int {
	counts := make([]*int, len(showIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seasonFetchLimit)
	for i, id := range showIDs {
		g.Go(func() error {
			d, err := c.Details(gctx, models.KindTV, id)
			if err == nil {
				counts[i] = d.NumberOfSeasons
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int64]int, len(showIDs))
	for i, id := range showIDs {
		if counts[i] != nil {
			out[id] = *counts[i]
		}
	}
	return out
}

// Trending returns this week's trending titles. mediaType is all, movie or tv.
func (c *Client) Trending(ctx context.Context, mediaType, language string) (*Page, error) {
	switch mediaType {
	case "all", "movie", "tv":
	default:
		return nil, errors.New("media type must be all, movie or tv")
	}
	params := url.Values{}
	if language != "" {
		params.Set("language", language)
	}
	var p Page
	if err := c.get(ctx, "trending", "/trending/"+mediaType+"/week", params, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByTVDB returns the TMDB id of the show with the given TVDB id, or 0.
func (c *Client) FindByTVDB(ctx context.Context, tvdbID int64) (int64, error) {
	var body struct {
		TVResults []Result `json:"tv_results"`
	}
	params := url.Values{"external_source": {"tvdb_id"}}
	err := c.get(ctx, "find", "/find/"+strconv.FormatInt(tvdbID, 10), params, &body)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(body.TVResults) == 0 {
		return 0, nil
	}
	return body.TVResults[0].ID, nil
}
