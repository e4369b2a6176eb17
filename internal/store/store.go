// Package store defines the persistence contract for requests, the library,
// the identifier cache, login counters and settings, and selects a backend
// at startup.
//
// Backends register themselves from an init() function in their own package
// and are pulled in with a blank import:
//
//	import _ "github.com/overseer-lite/overseer-lite/internal/store/postgres"
//
// Every read-modify-write operation (RecordFailure, MarkFulfilled,
// PutMapping, SetSettingIfAbsent) is atomic in each backend, so several
// replicas may share one store without in-process locking.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

// ErrNotFound is returned by mutations addressed at a record that does not exist.
var ErrNotFound = errors.New("not found")

// RequestFilter narrows ListRequests. A zero value lists everything.
type RequestFilter struct {
	Kind        models.Kind
	PendingOnly bool
}

// RequestStore persists media requests.
type RequestStore interface {
	// AddRequest returns false when (kind, tmdb id) is already requested.
	AddRequest(ctx context.Context, req *models.Request) (bool, error)
	// RemoveRequest returns ErrNotFound when nothing was deleted.
	RemoveRequest(ctx context.Context, kind models.Kind, tmdbID int64) error
	GetRequest(ctx context.Context, kind models.Kind, tmdbID int64) (*models.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*models.Request, error)
	FindRequestByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.Request, error)
	FindRequestByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.Request, error)
	FindRequestByPlexGUID(ctx context.Context, plexGUID string) (*models.Request, error)
	// MarkFulfilled sets the fulfilment time only if unset and returns the
	// request to the one caller that flipped it; nil for everyone else.
	MarkFulfilled(ctx context.Context, kind models.Kind, tmdbID int64, at time.Time) (*models.Request, error)
	SetRequestPlexGUID(ctx context.Context, kind models.Kind, tmdbID int64, plexGUID string) error
}

// LibraryStore persists library presence.
type LibraryStore interface {
	// UpsertLibraryItem merges item into the record with the same key.
	UpsertLibraryItem(ctx context.Context, item *models.LibraryItem) error
	// SyncLibrary upserts a bulk export of one kind and returns the number written.
	SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (int, error)
	IsInLibrary(ctx context.Context, kind models.Kind, tmdbID int64) (bool, error)
	LibraryIDs(ctx context.Context, kind models.Kind) ([]int64, error)
	FindLibraryByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.LibraryItem, error)
	FindLibraryByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.LibraryItem, error)
}

// IdentifierCache maps Plex GUIDs to resolved ids. Entries do not expire.
type IdentifierCache interface {
	GetMapping(ctx context.Context, plexGUID string) (*models.IdentifierMapping, error)
	PutMapping(ctx context.Context, m *models.IdentifierMapping) error
}

// AttemptStore keeps failed-login counters. It satisfies auth.AttemptStore.
type AttemptStore interface {
	FailedAttempts(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	ClearFailures(ctx context.Context, key string) error
	// PruneAttempts deletes expired counters. Backends with native expiry return 0.
	PruneAttempts(ctx context.Context, now time.Time) (int64, error)
}

// SettingsStore is a small key/value table.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	// SetSettingIfAbsent stores value unless key exists and returns the stored value.
	SetSettingIfAbsent(ctx context.Context, key, value string) (string, error)
}

// Store is the full persistence contract.
type Store interface {
	RequestStore
	LibraryStore
	IdentifierCache
	AttemptStore
	SettingsStore

	Ping(ctx context.Context) error
	Close() error
}
