// Package feeds renders the pending request list in the formats polled by
// download managers: the Radarr "StevenLu Custom" JSON list, the Sonarr
// custom list, and RSS 2.0.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/store"
	"github.com/overseer-lite/overseer-lite/pkg/checksum"
)

// ImageURLFunc builds a poster URL for a size and TMDB poster path.
type ImageURLFunc func(size, path string) string

// Lister is the request query the feeds are built from.
type Lister interface {
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]*models.Request, error)
}

// Document is a rendered feed body with its entity tag.
type Document struct {
	Body        []byte
	ETag        string
	ContentType string
}

func newDocument(body []byte, contentType string) *Document {
	return &Document{Body: body, ETag: checksum.ETag(body), ContentType: contentType}
}

// RadarrItem is one entry of a StevenLu custom list.
type RadarrItem struct {
	Title     string `json:"title"`
	IMDbID    string `json:"imdb_id,omitempty"`
	PosterURL string `json:"poster_url,omitempty"`
}

// SonarrItem is one entry of a Sonarr custom list. Sonarr expects the id as a string.
type SonarrItem struct {
	TVDBID string `json:"tvdbId"`
}

// Builder renders feeds from the current request list.
type Builder struct {
	store Lister
	image ImageURLFunc
}

// NewBuilder creates a Builder. image may be nil, which omits poster URLs.
func NewBuilder(store Lister, image ImageURLFunc) *Builder {
	return &Builder{store: store, image: image}
}

func (b *Builder) pending(ctx context.Context, kind models.Kind) ([]*models.Request, error) {
	reqs, err := b.store.ListRequests(ctx, store.RequestFilter{Kind: kind, PendingOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list pending %s requests: %w", kindOrAll(kind), err)
	}
	return reqs, nil
}

// RadarrItems converts movie requests to list entries.
func RadarrItems(reqs []*models.Request, image ImageURLFunc) []RadarrItem {
	items := make([]RadarrItem, 0, len(reqs))
	for _, req := range reqs {
		item := RadarrItem{Title: req.Title}
		if req.Year != nil {
			item.Title = fmt.Sprintf("%s (%d)", req.Title, *req.Year)
		}
		if req.IMDbID != nil {
			item.IMDbID = *req.IMDbID
		}
		if image != nil && req.PosterPath != nil && *req.PosterPath != "" {
			item.PosterURL = image("w300", *req.PosterPath)
		}
		items = append(items, item)
	}
	return items
}

// SonarrItems converts show requests to list entries. Shows without a TVDB
// id cannot be added by Sonarr and are left out.
func SonarrItems(reqs []*models.Request) []SonarrItem {
	items := make([]SonarrItem, 0, len(reqs))
	for _, req := range reqs {
		if req.TVDBID == nil || *req.TVDBID <= 0 {
			continue
		}
		items = append(items, SonarrItem{TVDBID: strconv.FormatInt(*req.TVDBID, 10)})
	}
	return items
}

// Radarr renders the pending movie list.
func (b *Builder) Radarr(ctx context.Context) (*Document, error) {
	reqs, err := b.pending(ctx, models.KindMovie)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(RadarrItems(reqs, b.image))
	if err != nil {
		return nil, err
	}
	return newDocument(body, "application/json; charset=utf-8"), nil
}

// Sonarr renders the pending show list.
func (b *Builder) Sonarr(ctx context.Context) (*Document, error) {
	reqs, err := b.pending(ctx, models.KindTV)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(SonarrItems(reqs))
	if err != nil {
		return nil, err
	}
	return newDocument(body, "application/json; charset=utf-8"), nil
}

// RSS renders pending requests of kind, or of both kinds when kind is empty.
func (b *Builder) RSS(ctx context.Context, kind models.Kind, link string) (*Document, error) {
	reqs, err := b.pending(ctx, kind)
	if err != nil {
		return nil, err
	}
	body, err := RenderRSS(channelTitle(kind), link, reqs, b.image)
	if err != nil {
		return nil, err
	}
	return newDocument(body, "application/rss+xml; charset=utf-8"), nil
}

func kindOrAll(kind models.Kind) string {
	if kind == "" {
		return "all"
	}
	return string(kind)
}

func channelTitle(kind models.Kind) string {
	switch kind {
	case models.KindMovie:
		return "Overseer Lite - Movie Requests"
	case models.KindTV:
		return "Overseer Lite - TV Requests"
	default:
		return "Overseer Lite - All Requests"
	}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string     `xml:"title"`
	Link        string     `xml:"link"`
	Description string     `xml:"description,omitempty"`
	Category    string     `xml:"category"`
	GUID        rssGUID    `xml:"guid"`
	PubDate     string     `xml:"pubDate"`
	Enclosure   *enclosure `xml:"enclosure,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int    `xml:"length,attr"`
}

// RenderRSS encodes requests as an RSS 2.0 channel. lastBuildDate is the
// newest request's creation time so identical lists render identically.
func RenderRSS(title, link string, reqs []*models.Request, image ImageURLFunc) ([]byte, error) {
	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       title,
			Link:        link,
			Description: "Pending media requests",
			Items:       make([]rssItem, 0, len(reqs)),
		},
	}

	var newest time.Time
	for _, req := range reqs {
		if req.CreatedAt.After(newest) {
			newest = req.CreatedAt
		}
		item := rssItem{
			Title:    req.Title,
			Link:     tmdbPage(req),
			Category: req.Kind.Label(),
			GUID:     rssGUID{Value: fmt.Sprintf("overseer-lite:%s:%d", req.Kind, req.TMDBID)},
			PubDate:  req.CreatedAt.UTC().Format(time.RFC1123Z),
		}
		if req.Year != nil {
			item.Title = fmt.Sprintf("%s (%d)", req.Title, *req.Year)
		}
		if req.Overview != nil {
			item.Description = *req.Overview
		}
		if image != nil && req.PosterPath != nil && *req.PosterPath != "" {
			item.Enclosure = &enclosure{URL: image("w300", *req.PosterPath), Type: "image/jpeg"}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}
	if !newest.IsZero() {
		doc.Channel.LastBuildDate = newest.UTC().Format(time.RFC1123Z)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func tmdbPage(req *models.Request) string {
	return fmt.Sprintf("https://www.themoviedb.org/%s/%d", req.Kind, req.TMDBID)
}

// Feed describes one feed URL for the discovery endpoint.
type Feed struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Format      string `json:"format"`
	Setup       string `json:"setup,omitempty"`
}

// Discovery is the body of the feed discovery endpoint.
type Discovery struct {
	TokenRequired bool            `json:"token_required"`
	Feeds         map[string]Feed `json:"feeds"`
}

// Describe lists every feed under baseURL. When a token is required the URLs
// carry a placeholder, never the token itself.
func Describe(baseURL string, tokenRequired bool) Discovery {
	param := ""
	if tokenRequired {
		param = "?token=YOUR_FEED_TOKEN"
	}
	return Discovery{
		TokenRequired: tokenRequired,
		Feeds: map[string]Feed{
			"radarr": {
				Name:        "Radarr (Movies)",
				Description: "StevenLu Custom JSON format for Radarr",
				URL:         baseURL + "/list/radarr" + param,
				Format:      "json",
				Setup:       "Settings -> Import Lists -> Custom Lists -> StevenLu Custom",
			},
			"sonarr": {
				Name:        "Sonarr (TV Shows)",
				Description: "Custom List JSON format with TVDB IDs for Sonarr",
				URL:         baseURL + "/list/sonarr" + param,
				Format:      "json",
				Setup:       "Settings -> Import Lists -> Add -> Custom Lists",
			},
			"rss_movies": {
				Name:        "RSS (Movies)",
				Description: "Pending movie requests as RSS 2.0",
				URL:         baseURL + "/rss/movies" + param,
				Format:      "rss",
			},
			"rss_tv": {
				Name:        "RSS (TV Shows)",
				Description: "Pending TV requests as RSS 2.0",
				URL:         baseURL + "/rss/tv" + param,
				Format:      "rss",
			},
			"rss_all": {
				Name:        "RSS (All)",
				Description: "All pending requests as RSS 2.0",
				URL:         baseURL + "/rss/all" + param,
				Format:      "rss",
			},
		},
	}
}
