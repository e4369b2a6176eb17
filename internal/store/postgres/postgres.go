// Package postgres implements the PostgreSQL store backend on top of the
// repositories package. Schema migrations are applied when the store opens.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/db"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/db/repositories"
	"github.com/overseer-lite/overseer-lite/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg *config.Config) (store.Store, error) {
		conn, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(conn.DB, "up"); err != nil {
			conn.Close()
			return nil, err
		}
		return New(conn), nil
	})
}

// Store implements store.Store with PostgreSQL
type Store struct {
	db       *sqlx.DB
	requests *repositories.RequestRepository
	library  *repositories.LibraryRepository
	cache    *repositories.IdentifierCacheRepository
	attempts *repositories.LoginAttemptRepository
	settings *repositories.SettingsRepository
}

// New wraps an open connection. The caller is responsible for migrations.
func New(conn *sqlx.DB) *Store {
	return &Store{
		db:       conn,
		requests: repositories.NewRequestRepository(conn),
		library:  repositories.NewLibraryRepository(conn),
		cache:    repositories.NewIdentifierCacheRepository(conn),
		attempts: repositories.NewLoginAttemptRepository(conn),
		settings: repositories.NewSettingsRepository(conn),
	}
}

// DB exposes the pool for the connection stats collector
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) AddRequest(ctx context.Context, req *models.Request) (bool, error) {
	return s.requests.AddRequest(ctx, req)
}

func (s *Store) RemoveRequest(ctx context.Context, kind models.Kind, tmdbID int64) error {
	removed, err := s.requests.RemoveRequest(ctx, kind, tmdbID)
	if err != nil {
		return err
	}
	if !removed {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, kind models.Kind, tmdbID int64) (*models.Request, error) {
	return s.requests.GetRequest(ctx, kind, tmdbID)
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]*models.Request, error) {
	return s.requests.ListRequests(ctx, repositories.RequestFilter{
		Kind:        filter.Kind,
		PendingOnly: filter.PendingOnly,
	})
}

func (s *Store) FindRequestByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.Request, error) {
	return s.requests.FindByTVDBID(ctx, kind, tvdbID)
}

func (s *Store) FindRequestByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.Request, error) {
	return s.requests.FindByIMDbID(ctx, kind, imdbID)
}

func (s *Store) FindRequestByPlexGUID(ctx context.Context, plexGUID string) (*models.Request, error) {
	return s.requests.FindByPlexGUID(ctx, plexGUID)
}

func (s *Store) MarkFulfilled(ctx context.Context, kind models.Kind, tmdbID int64, at time.Time) (*models.Request, error) {
	return s.requests.MarkFulfilled(ctx, kind, tmdbID, at)
}

func (s *Store) SetRequestPlexGUID(ctx context.Context, kind models.Kind, tmdbID int64, plexGUID string) error {
	return s.requests.SetPlexGUID(ctx, kind, tmdbID, plexGUID)
}

func (s *Store) UpsertLibraryItem(ctx context.Context, item *models.LibraryItem) error {
	return s.library.UpsertItem(ctx, item)
}

func (s *Store) SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (int, error) {
	return s.library.SyncItems(ctx, kind, items, clearFirst)
}

func (s *Store) IsInLibrary(ctx context.Context, kind models.Kind, tmdbID int64) (bool, error) {
	return s.library.IsInLibrary(ctx, kind, tmdbID)
}

func (s *Store) LibraryIDs(ctx context.Context, kind models.Kind) ([]int64, error) {
	return s.library.IDsByKind(ctx, kind)
}

func (s *Store) FindLibraryByTVDB(ctx context.Context, kind models.Kind, tvdbID int64) (*models.LibraryItem, error) {
	return s.library.FindByTVDBID(ctx, kind, tvdbID)
}

func (s *Store) FindLibraryByIMDb(ctx context.Context, kind models.Kind, imdbID string) (*models.LibraryItem, error) {
	return s.library.FindByIMDbID(ctx, kind, imdbID)
}

func (s *Store) GetMapping(ctx context.Context, plexGUID string) (*models.IdentifierMapping, error) {
	return s.cache.Get(ctx, plexGUID)
}

func (s *Store) PutMapping(ctx context.Context, m *models.IdentifierMapping) error {
	return s.cache.Put(ctx, m)
}

func (s *Store) FailedAttempts(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	return s.attempts.FailedAttempts(ctx, key, window, now)
}

func (s *Store) RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	return s.attempts.RecordFailure(ctx, key, window, now)
}

func (s *Store) ClearFailures(ctx context.Context, key string) error {
	return s.attempts.ClearFailures(ctx, key)
}

func (s *Store) PruneAttempts(ctx context.Context, now time.Time) (int64, error) {
	return s.attempts.DeleteExpired(ctx, now)
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return s.settings.Get(ctx, key)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.settings.Set(ctx, key, value)
}

func (s *Store) SetSettingIfAbsent(ctx context.Context, key, value string) (string, error) {
	return s.settings.SetIfAbsent(ctx, key, value)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
