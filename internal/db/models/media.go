// Package models - media.go defines the request, library and identifier-cache
// records shared by every store backend.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the media kind of a request or library item.
type Kind string

const (
	KindMovie Kind = "movie"
	KindTV    Kind = "tv"
)

// ParseKind validates a wire value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMovie, KindTV:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("media_type must be 'movie' or 'tv', got %q", s)
	}
}

// Label is the human-readable kind used in notifications and feeds.
func (k Kind) Label() string {
	if k == KindMovie {
		return "Movie"
	}
	return "TV Show"
}

// Request is a user's wish to acquire one title. (Kind, TMDBID) is unique.
type Request struct {
	Kind        Kind       `db:"media_type" json:"media_type"`
	TMDBID      int64      `db:"tmdb_id" json:"tmdb_id"`
	Title       string     `db:"title" json:"title"`
	Year        *int       `db:"year" json:"year,omitempty"`
	Overview    *string    `db:"overview" json:"overview,omitempty"`
	PosterPath  *string    `db:"poster_path" json:"poster_path,omitempty"`
	IMDbID      *string    `db:"imdb_id" json:"imdb_id,omitempty"`
	TVDBID      *int64     `db:"tvdb_id" json:"tvdb_id,omitempty"`
	PlexGUID    *string    `db:"plex_guid" json:"plex_guid,omitempty"`
	RequestedBy *string    `db:"requested_by" json:"requested_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	FulfilledAt *time.Time `db:"fulfilled_at" json:"added_at,omitempty"`
}

// IsPending reports whether the request still waits for the library.
func (r *Request) IsPending() bool {
	return r.FulfilledAt == nil
}

// LibraryItem records that a title is present in the media server. Items the
// webhook could not resolve have TMDBID 0 and are keyed by their Plex GUID.
type LibraryItem struct {
	Key       string    `db:"item_key" json:"-"`
	Kind      Kind      `db:"media_type" json:"media_type"`
	TMDBID    int64     `db:"tmdb_id" json:"tmdb_id"`
	TVDBID    *int64    `db:"tvdb_id" json:"tvdb_id,omitempty"`
	IMDbID    *string   `db:"imdb_id" json:"imdb_id,omitempty"`
	PlexGUID  *string   `db:"plex_guid" json:"plex_guid,omitempty"`
	Title     string    `db:"title" json:"title"`
	Year      *int      `db:"year" json:"year,omitempty"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LibraryKey returns the storage key of a library item: "movie:27205" when
// resolved, "guid:plex://show/abc" otherwise.
func LibraryKey(kind Kind, tmdbID int64, plexGUID string) string {
	if tmdbID > 0 {
		return string(kind) + ":" + strconv.FormatInt(tmdbID, 10)
	}
	return "guid:" + plexGUID
}

// IdentifierMapping caches what a Plex GUID resolved to. TMDBID may be 0 when
// only the series TVDB id is known.
type IdentifierMapping struct {
	PlexGUID  string    `db:"plex_guid" json:"plex_guid"`
	Kind      Kind      `db:"media_type" json:"media_type"`
	TMDBID    int64     `db:"tmdb_id" json:"tmdb_id"`
	TVDBID    *int64    `db:"tvdb_id" json:"tvdb_id,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LoginAttempt is the failed-login counter for one client key.
type LoginAttempt struct {
	ClientKey      string    `db:"client_key" json:"client_key"`
	FailedAttempts int       `db:"failed_attempts" json:"failed_attempts"`
	WindowStart    time.Time `db:"window_start" json:"window_start"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
}

// Active reports whether the counter's window still covers now.
func (a *LoginAttempt) Active(window time.Duration, now time.Time) bool {
	return now.Sub(a.WindowStart) <= window
}

// SyncItem is one entry of a bulk library export.
type SyncItem struct {
	TMDBID int64   `json:"tmdb_id"`
	TVDBID *int64  `json:"tvdb_id,omitempty"`
	IMDbID *string `json:"imdb_id,omitempty"`
	Title  string  `json:"title"`
	Year   *int    `json:"year,omitempty"`
}

// Setting keys.
const (
	SettingTrendingKey = "trending_key"
	SettingTVDBToken   = "tvdb_token"
)
