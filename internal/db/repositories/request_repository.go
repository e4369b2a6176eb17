// Package repositories implements the PostgreSQL data access layer behind the
// postgres store backend. Each repository owns the SQL for one table; the
// store package composes them. Lookups that find nothing return nil, nil.
package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

const requestColumns = `media_type, tmdb_id, title, year, overview, poster_path, imdb_id, tvdb_id,
	plex_guid, requested_by, created_at, fulfilled_at`

// RequestFilter narrows ListRequests. A zero value lists everything.
type RequestFilter struct {
	Kind        models.Kind
	PendingOnly bool
}

// RequestRepository handles media request database operations
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new RequestRepository
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// AddRequest inserts a request. It returns false when the (kind, tmdb id)
// pair is already requested.
func (r *RequestRepository) AddRequest(ctx context.Context, req *models.Request) (bool, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO requests (
			media_type, tmdb_id, title, year, overview, poster_path,
			imdb_id, tvdb_id, plex_guid, requested_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (media_type, tmdb_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		req.Kind,
		req.TMDBID,
		req.Title,
		req.Year,
		req.Overview,
		req.PosterPath,
		req.IMDbID,
		req.TVDBID,
		req.PlexGUID,
		req.RequestedBy,
		req.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// RemoveRequest deletes a request and reports whether one existed
func (r *RequestRepository) RemoveRequest(ctx context.Context, kind models.Kind, tmdbID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM requests WHERE media_type = $1 AND tmdb_id = $2`, kind, tmdbID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetRequest retrieves a request by its key
func (r *RequestRepository) GetRequest(ctx context.Context, kind models.Kind, tmdbID int64) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE media_type = $1 AND tmdb_id = $2`
	return r.getOne(ctx, query, kind, tmdbID)
}

// ListRequests returns requests newest first
func (r *RequestRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]*models.Request, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, "media_type = $1")
	}
	if filter.PendingOnly {
		conditions = append(conditions, "fulfilled_at IS NULL")
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	requests := []*models.Request{}
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, err
	}
	return requests, nil
}

// FindByTVDBID returns the oldest request of kind carrying the TVDB id
func (r *RequestRepository) FindByTVDBID(ctx context.Context, kind models.Kind, tvdbID int64) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE media_type = $1 AND tvdb_id = $2
		ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, query, kind, tvdbID)
}

// FindByIMDbID returns the oldest request of kind carrying the IMDb id
func (r *RequestRepository) FindByIMDbID(ctx context.Context, kind models.Kind, imdbID string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE media_type = $1 AND imdb_id = $2
		ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, query, kind, imdbID)
}

// FindByPlexGUID returns the request previously linked to a Plex GUID
func (r *RequestRepository) FindByPlexGUID(ctx context.Context, plexGUID string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE plex_guid = $1
		ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, query, plexGUID)
}

// MarkFulfilled sets fulfilled_at only if it is still NULL. The updated
// request is returned to the single caller that flipped it; everyone else,
// including callers for unknown keys, gets nil.
func (r *RequestRepository) MarkFulfilled(ctx context.Context, kind models.Kind, tmdbID int64, at time.Time) (*models.Request, error) {
	query := `
		UPDATE requests SET fulfilled_at = $3
		WHERE media_type = $1 AND tmdb_id = $2 AND fulfilled_at IS NULL
		RETURNING ` + requestColumns
	return r.getOne(ctx, query, kind, tmdbID, at)
}

// SetPlexGUID links a request to the Plex GUID that fulfilled it
func (r *RequestRepository) SetPlexGUID(ctx context.Context, kind models.Kind, tmdbID int64, plexGUID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE requests SET plex_guid = $3 WHERE media_type = $1 AND tmdb_id = $2`,
		kind, tmdbID, plexGUID)
	return err
}

func (r *RequestRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Request, error) {
	var req models.Request
	err := r.db.GetContext(ctx, &req, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}
