// Package reconcile turns Plex "library.new" events into library records and
// fulfilled requests.
//
// Resolution of an event to a TMDB id is a fixed heuristic, cheapest and most
// reliable source first. Two events for the same title can resolve through
// different steps depending on which ids Plex attached, so the order is part
// of the behaviour and covered by tests.
package reconcile

import (
	"context"
	"fmt"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/plex"
)

// Strategy names the resolver step that produced a match.
type Strategy string

const (
	StrategyPrimary  Strategy = "primary"
	StrategyCatalog  Strategy = "catalog"
	StrategyCache    Strategy = "cache"
	StrategyExternal Strategy = "external"
	StrategyNone     Strategy = "none"
)

// Resolution is the outcome of resolving one event. TVDBID may be set
// without a TMDB id when only the series could be identified.
type Resolution struct {
	TMDBID   int64
	TVDBID   int64
	Strategy Strategy

	// cached is set when the result is exactly the stored mapping.
	cached bool
}

// Matched reports whether a TMDB id was found.
func (r Resolution) Matched() bool {
	return r.TMDBID > 0
}

// ResolverStore is the read side of the store used during resolution.
type ResolverStore interface {
	FindRequestByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.Request, error)
	FindRequestByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.Request, error)
	FindLibraryByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.LibraryItem, error)
	FindLibraryByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.LibraryItem, error)
	FindRequestByPlexGUID(ctx context.Context, plexGUID string) (*models.Request, error)
	GetMapping(ctx context.Context, plexGUID string) (*models.IdentifierMapping, error)
}

// SeriesLookup maps an episode's TVDB id to its series. Satisfied by *tvdb.Client.
type SeriesLookup interface {
	Enabled() bool
	SeriesIDForEpisode(ctx context.Context, episodeID int64) (int64, error)
}

// TVDBFinder maps a series TVDB id to a TMDB id. Satisfied by *tmdb.Client.
type TVDBFinder interface {
	Enabled() bool
	FindByTVDB(ctx context.Context, tvdbID int64) (int64, error)
}

// Resolver resolves webhook media to a TMDB id.
type Resolver struct {
	store  ResolverStore
	series SeriesLookup
	finder TVDBFinder
}

// NewResolver creates a resolver. series and finder may be nil; the external
// step is skipped without a configured series lookup.
func NewResolver(store ResolverStore, series SeriesLookup, finder TVDBFinder) *Resolver {
	return &Resolver{store: store, series: series, finder: finder}
}

// Resolve runs the resolution steps in order:
//
//  1. the TMDB id carried by the event;
//  2. the TVDB id, then the IMDb id, matched against requests and the library;
//  3. the identifier cache entry for the Plex GUID, or a request already
//     linked to it;
//  4. for episodes, the series found through TVDB, matched like step 2 and
//     then through TMDB /find;
//  5. no match.
//
// Lookup failures are returned so the delivery can be retried.
func (r *Resolver) Resolve(ctx context.Context, m *plex.Media) (Resolution, error) {
	if m == nil || !m.HasIdentifiers() {
		return Resolution{Strategy: StrategyNone}, nil
	}

	if m.TMDBID > 0 {
		return Resolution{TMDBID: m.TMDBID, TVDBID: m.TVDBID, Strategy: StrategyPrimary}, nil
	}

	if m.TVDBID > 0 || m.IMDbID != "" {
		id, err := r.catalog(ctx, m.Kind, m.TVDBID, m.IMDbID)
		if err != nil {
			return Resolution{}, err
		}
		if id > 0 {
			return Resolution{TMDBID: id, TVDBID: m.TVDBID, Strategy: StrategyCatalog}, nil
		}
	}

	// A series TVDB id remembered from an earlier external lookup.
	var knownSeries int64

	if m.PlexGUID != "" {
		cached, err := r.store.GetMapping(ctx, m.PlexGUID)
		if err != nil {
			return Resolution{}, fmt.Errorf("identifier cache lookup: %w", err)
		}
		if cached != nil && cached.Kind == m.Kind {
			if cached.TVDBID != nil {
				knownSeries = *cached.TVDBID
			}
			if cached.TMDBID > 0 {
				return Resolution{TMDBID: cached.TMDBID, TVDBID: knownSeries, Strategy: StrategyCache, cached: true}, nil
			}
			if knownSeries > 0 {
				id, err := r.bySeries(ctx, knownSeries)
				if err != nil {
					return Resolution{}, err
				}
				if id > 0 {
					return Resolution{TMDBID: id, TVDBID: knownSeries, Strategy: StrategyCache}, nil
				}
				return Resolution{TVDBID: knownSeries, Strategy: StrategyNone}, nil
			}
		}
		if cached == nil {
			// Requests fulfilled before the cache existed still carry the GUID.
			req, err := r.store.FindRequestByPlexGUID(ctx, m.PlexGUID)
			if err != nil {
				return Resolution{}, fmt.Errorf("request lookup by plex guid: %w", err)
			}
			if req != nil && req.Kind == m.Kind {
				var tvdbID int64
				if req.TVDBID != nil {
					tvdbID = *req.TVDBID
				}
				return Resolution{TMDBID: req.TMDBID, TVDBID: tvdbID, Strategy: StrategyCache}, nil
			}
		}
	}

	if m.EpisodeTVDBID > 0 && r.series != nil && r.series.Enabled() {
		seriesID, err := r.series.SeriesIDForEpisode(ctx, m.EpisodeTVDBID)
		if err != nil {
			return Resolution{}, fmt.Errorf("series lookup for episode %d: %w", m.EpisodeTVDBID, err)
		}
		if seriesID > 0 {
			id, err := r.bySeries(ctx, seriesID)
			if err != nil {
				return Resolution{}, err
			}
			if id > 0 {
				return Resolution{TMDBID: id, TVDBID: seriesID, Strategy: StrategyExternal}, nil
			}
			return Resolution{TVDBID: seriesID, Strategy: StrategyNone}, nil
		}
	}

	return Resolution{TVDBID: knownSeries, Strategy: StrategyNone}, nil
}

// catalog matches secondary ids against requests first, then the library.
func (r *Resolver) catalog(ctx context.Context, kind models.Kind, tvdbID int64, imdbID string) (int64, error) {
	if tvdbID > 0 {
		req, err := r.store.FindRequestByTVDB(ctx, kind, tvdbID)
		if err != nil {
			return 0, fmt.Errorf("request lookup by tvdb id: %w", err)
		}
		if req != nil {
			return req.TMDBID, nil
		}
	}
	if imdbID != "" {
		req, err := r.store.FindRequestByIMDb(ctx, kind, imdbID)
		if err != nil {
			return 0, fmt.Errorf("request lookup by imdb id: %w", err)
		}
		if req != nil {
			return req.TMDBID, nil
		}
	}
	if tvdbID > 0 {
		item, err := r.store.FindLibraryByTVDB(ctx, kind, tvdbID)
		if err != nil {
			return 0, fmt.Errorf("library lookup by tvdb id: %w", err)
		}
		if item != nil {
			return item.TMDBID, nil
		}
	}
	if imdbID != "" {
		item, err := r.store.FindLibraryByIMDb(ctx, kind, imdbID)
		if err != nil {
			return 0, fmt.Errorf("library lookup by imdb id: %w", err)
		}
		if item != nil {
			return item.TMDBID, nil
		}
	}
	return 0, nil
}

// bySeries resolves a show TVDB id through the store, then TMDB.
func (r *Resolver) bySeries(ctx context.Context, seriesID int64) (int64, error) {
	id, err := r.catalog(ctx, models.KindTV, seriesID, "")
	if err != nil || id > 0 {
		return id, err
	}
	if r.finder == nil || !r.finder.Enabled() {
		return 0, nil
	}
	id, err = r.finder.FindByTVDB(ctx, seriesID)
	if err != nil {
		return 0, fmt.Errorf("tmdb find by tvdb id %d: %w", seriesID, err)
	}
	return id, nil
}
