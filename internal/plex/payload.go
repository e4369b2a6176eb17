// Package plex decodes Plex Media Server webhook deliveries and extracts the
// show- or movie-level identifiers used for reconciliation.
package plex

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

// EventLibraryNew is the only event that reconciles requests.
const EventLibraryNew = "library.new"

const (
	// maxPayloadBytes bounds the whole webhook body. Plex attaches a thumbnail
	// to some multipart deliveries, so this is generous.
	maxPayloadBytes = 10 << 20
	// maxFormMemory is how much of a multipart body is held in memory.
	maxFormMemory = 1 << 20
)

var (
	// ErrMissingPayload is returned when neither a payload form field nor a JSON body is present.
	ErrMissingPayload = errors.New("missing webhook payload")
	// ErrInvalidPayload is returned when the payload is not valid JSON.
	ErrInvalidPayload = errors.New("invalid JSON payload")
	// ErrPayloadTooLarge is returned when the body exceeds maxPayloadBytes.
	ErrPayloadTooLarge = errors.New("webhook payload too large")
)

// Event is the subset of a Plex webhook body this service reads.
type Event struct {
	Event    string   `json:"event"`
	User     bool     `json:"user"`
	Owner    bool     `json:"owner"`
	Account  Account  `json:"Account"`
	Server   Server   `json:"Server"`
	Metadata Metadata `json:"Metadata"`
}

type Account struct {
	Title string `json:"title"`
}

type Server struct {
	Title string `json:"title"`
	UUID  string `json:"uuid"`
}

// GUIDTag is one entry of the Metadata.Guid array, e.g. {"id":"tmdb://27205"}.
type GUIDTag struct {
	ID string `json:"id"`
}

// Metadata describes the library item the event is about.
type Metadata struct {
	Type             string    `json:"type"`
	Title            string    `json:"title"`
	Year             *int      `json:"year"`
	GUID             string    `json:"guid"`
	ParentTitle      string    `json:"parentTitle"`
	ParentYear       *int      `json:"parentYear"`
	ParentGUID       string    `json:"parentGuid"`
	GrandparentTitle string    `json:"grandparentTitle"`
	GrandparentYear  *int      `json:"grandparentYear"`
	GrandparentGUID  string    `json:"grandparentGuid"`
	GUIDs            []GUIDTag `json:"Guid"`
}

// DisplayTitle is the title used in log lines before parsing.
func (m Metadata) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	if m.GrandparentTitle != "" {
		return m.GrandparentTitle
	}
	return "unknown"
}

// ExternalIDs are the ids found in a Guid array.
type ExternalIDs struct {
	TMDBID int64
	TVDBID int64
	IMDbID string
}

// ParseGUIDs extracts tmdb://, tvdb:// and imdb:// entries. Malformed
// numeric ids are ignored.
func ParseGUIDs(tags []GUIDTag) ExternalIDs {
	var ids ExternalIDs
	for _, tag := range tags {
		scheme, value, ok := strings.Cut(tag.ID, "://")
		if !ok || value == "" {
			continue
		}
		switch scheme {
		case "tmdb":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				ids.TMDBID = n
			}
		case "tvdb":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				ids.TVDBID = n
			}
		case "imdb":
			ids.IMDbID = value
		}
	}
	return ids
}

// Media is a webhook item normalised to the show or movie it belongs to.
// Zero values mean "not carried by the event".
type Media struct {
	Kind     models.Kind
	PlexType string
	Title    string
	Year     *int
	TMDBID   int64
	TVDBID   int64
	IMDbID   string
	// PlexGUID is the movie's or show's own Plex GUID, used as the cache key.
	PlexGUID string
	// EpisodeTVDBID is set for episodes only; the series id is looked up from it.
	EpisodeTVDBID int64
}

// HasIdentifiers reports whether anything at all can be resolved.
func (m *Media) HasIdentifiers() bool {
	return m.TMDBID > 0 || m.TVDBID > 0 || m.IMDbID != "" || m.PlexGUID != "" || m.EpisodeTVDBID > 0
}

// Media normalises the event's metadata. It returns nil for item types that
// cannot be requested (tracks, photos, clips).
//
// Seasons and episodes are lifted to their show: titles and the Plex GUID come
// from the parent or grandparent, and the Guid ids, which describe the season
// or episode itself, are dropped. An episode's TVDB id is kept separately for
// the series lookup.
func (e *Event) Media() *Media {
	md := e.Metadata
	ids := ParseGUIDs(md.GUIDs)

	m := &Media{PlexType: md.Type}
	switch md.Type {
	case "movie":
		m.Kind = models.KindMovie
		m.Title, m.Year, m.PlexGUID = md.Title, md.Year, md.GUID
		m.TMDBID, m.TVDBID, m.IMDbID = ids.TMDBID, ids.TVDBID, ids.IMDbID
	case "show":
		m.Kind = models.KindTV
		m.Title, m.Year, m.PlexGUID = md.Title, md.Year, md.GUID
		m.TMDBID, m.TVDBID, m.IMDbID = ids.TMDBID, ids.TVDBID, ids.IMDbID
	case "season":
		m.Kind = models.KindTV
		m.Title, m.Year, m.PlexGUID = md.ParentTitle, md.ParentYear, md.ParentGUID
	case "episode":
		m.Kind = models.KindTV
		m.Title, m.Year, m.PlexGUID = md.GrandparentTitle, md.GrandparentYear, md.GrandparentGUID
		m.EpisodeTVDBID = ids.TVDBID
	default:
		return nil
	}
	if m.Title == "" {
		m.Title = "Unknown"
	}
	return m
}

// ParsePayload decodes a webhook JSON document.
func ParsePayload(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ev, nil
}

// ReadPayload returns the JSON document of a webhook delivery. Plex posts
// multipart/form-data with a "payload" field; a raw JSON body is accepted
// for tests and proxies that re-encode the request. The body is capped at
// maxPayloadBytes, file parts included.
func ReadPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") || strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, payloadError(err)
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
		payload := r.FormValue("payload")
		if payload == "" {
			return nil, ErrMissingPayload
		}
		return []byte(payload), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, payloadError(err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrMissingPayload
	}
	return body, nil
}

func payloadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrPayloadTooLarge
	}
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}
