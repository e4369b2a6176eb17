// library_repository.go implements LibraryRepository, the record of titles
// confirmed present in the media server.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

const libraryColumns = `item_key, media_type, tmdb_id, tvdb_id, imdb_id, plex_guid, title, year, added_at, updated_at`

// upsertLibrarySQL keeps known identifiers when the incoming row lacks them
// and skips the write entirely when nothing would change, so redelivered
// events leave the row untouched.
const upsertLibrarySQL = `
	INSERT INTO library (
		item_key, media_type, tmdb_id, tvdb_id, imdb_id, plex_guid, title, year, added_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	ON CONFLICT (item_key) DO UPDATE SET
		tvdb_id    = COALESCE(EXCLUDED.tvdb_id, library.tvdb_id),
		imdb_id    = COALESCE(EXCLUDED.imdb_id, library.imdb_id),
		plex_guid  = COALESCE(EXCLUDED.plex_guid, library.plex_guid),
		title      = COALESCE(NULLIF(EXCLUDED.title, ''), library.title),
		year       = COALESCE(EXCLUDED.year, library.year),
		updated_at = EXCLUDED.updated_at
	WHERE (library.tvdb_id, library.imdb_id, library.plex_guid, library.title, library.year)
		IS DISTINCT FROM (
			COALESCE(EXCLUDED.tvdb_id, library.tvdb_id),
			COALESCE(EXCLUDED.imdb_id, library.imdb_id),
			COALESCE(EXCLUDED.plex_guid, library.plex_guid),
			COALESCE(NULLIF(EXCLUDED.title, ''), library.title),
			COALESCE(EXCLUDED.year, library.year)
		)
`

// LibraryRepository handles library database operations
type LibraryRepository struct {
	db *sqlx.DB
}

// NewLibraryRepository creates a new LibraryRepository
func NewLibraryRepository(db *sqlx.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertLibrary(ctx context.Context, ex execer, item *models.LibraryItem) error {
	plexGUID := ""
	if item.PlexGUID != nil {
		plexGUID = *item.PlexGUID
	}
	item.Key = models.LibraryKey(item.Kind, item.TMDBID, plexGUID)
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}

	_, err := ex.ExecContext(ctx, upsertLibrarySQL,
		item.Key,
		item.Kind,
		item.TMDBID,
		item.TVDBID,
		item.IMDbID,
		item.PlexGUID,
		item.Title,
		item.Year,
		item.AddedAt,
	)
	return err
}

// UpsertItem inserts or merges one library item. A resolved item that carries
// a Plex GUID also removes the placeholder row stored under that GUID.
func (r *LibraryRepository) UpsertItem(ctx context.Context, item *models.LibraryItem) error {
	if item.TMDBID <= 0 || item.PlexGUID == nil || *item.PlexGUID == "" {
		return upsertLibrary(ctx, r.db, item)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertLibrary(ctx, tx, item); err != nil {
		return err
	}
	placeholder := models.LibraryKey(item.Kind, 0, *item.PlexGUID)
	if _, err := tx.ExecContext(ctx, `DELETE FROM library WHERE item_key = $1`, placeholder); err != nil {
		return err
	}
	return tx.Commit()
}

// SyncItems upserts a bulk export of one kind in a single transaction,
// optionally clearing that kind first. Items without a TMDB id are skipped.
func (r *LibraryRepository) SyncItems(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if clearFirst {
		if _, err := tx.ExecContext(ctx, `DELETE FROM library WHERE media_type = $1`, kind); err != nil {
			return 0, err
		}
	}

	now := time.Now()
	count := 0
	for _, it := range items {
		if it.TMDBID <= 0 {
			continue
		}
		item := &models.LibraryItem{
			Kind:    kind,
			TMDBID:  it.TMDBID,
			TVDBID:  it.TVDBID,
			IMDbID:  it.IMDbID,
			Title:   it.Title,
			Year:    it.Year,
			AddedAt: now,
		}
		if err := upsertLibrary(ctx, tx, item); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// IsInLibrary reports whether a resolved title is present
func (r *LibraryRepository) IsInLibrary(ctx context.Context, kind models.Kind, tmdbID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM library WHERE media_type = $1 AND tmdb_id = $2)`, kind, tmdbID)
	return exists, err
}

// IDsByKind returns the TMDB ids of every resolved item of kind
func (r *LibraryRepository) IDsByKind(ctx context.Context, kind models.Kind) ([]int64, error) {
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT tmdb_id FROM library WHERE media_type = $1 AND tmdb_id > 0 ORDER BY tmdb_id`, kind)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindByTVDBID returns a resolved library item of kind carrying the TVDB id
func (r *LibraryRepository) FindByTVDBID(ctx context.Context, kind models.Kind, tvdbID int64) (*models.LibraryItem, error) {
	query := `SELECT ` + libraryColumns + ` FROM library
		WHERE media_type = $1 AND tvdb_id = $2 AND tmdb_id > 0
		ORDER BY added_at LIMIT 1`
	return r.getOne(ctx, query, kind, tvdbID)
}

// FindByIMDbID returns a resolved library item of kind carrying the IMDb id
func (r *LibraryRepository) FindByIMDbID(ctx context.Context, kind models.Kind, imdbID string) (*models.LibraryItem, error) {
	query := `SELECT ` + libraryColumns + ` FROM library
		WHERE media_type = $1 AND imdb_id = $2 AND tmdb_id > 0
		ORDER BY added_at LIMIT 1`
	return r.getOne(ctx, query, kind, imdbID)
}

// GetItem retrieves a library item by storage key
func (r *LibraryRepository) GetItem(ctx context.Context, key string) (*models.LibraryItem, error) {
	return r.getOne(ctx, `SELECT `+libraryColumns+` FROM library WHERE item_key = $1`, key)
}

func (r *LibraryRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.LibraryItem, error) {
	var item models.LibraryItem
	err := r.db.GetContext(ctx, &item, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
