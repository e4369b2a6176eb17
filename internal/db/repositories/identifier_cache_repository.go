// identifier_cache_repository.go implements IdentifierCacheRepository, the
// durable Plex GUID to TMDB id mapping.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

// IdentifierCacheRepository handles identifier cache database operations
type IdentifierCacheRepository struct {
	db *sqlx.DB
}

// NewIdentifierCacheRepository creates a new IdentifierCacheRepository
func NewIdentifierCacheRepository(db *sqlx.DB) *IdentifierCacheRepository {
	return &IdentifierCacheRepository{db: db}
}

// Get returns the mapping for a Plex GUID
func (r *IdentifierCacheRepository) Get(ctx context.Context, plexGUID string) (*models.IdentifierMapping, error) {
	var m models.IdentifierMapping
	err := r.db.GetContext(ctx, &m, `
		SELECT plex_guid, media_type, tmdb_id, tvdb_id, updated_at
		FROM identifier_cache
		WHERE plex_guid = $1`, plexGUID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Put creates or refreshes a mapping. A known TVDB id is not erased by a
// refresh that lacks one, and an unchanged mapping is not rewritten.
func (r *IdentifierCacheRepository) Put(ctx context.Context, m *models.IdentifierMapping) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identifier_cache (plex_guid, media_type, tmdb_id, tvdb_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plex_guid) DO UPDATE SET
			media_type = EXCLUDED.media_type,
			tmdb_id    = EXCLUDED.tmdb_id,
			tvdb_id    = COALESCE(EXCLUDED.tvdb_id, identifier_cache.tvdb_id),
			updated_at = EXCLUDED.updated_at
		WHERE (identifier_cache.media_type, identifier_cache.tmdb_id, identifier_cache.tvdb_id)
			IS DISTINCT FROM (
				EXCLUDED.media_type,
				EXCLUDED.tmdb_id,
				COALESCE(EXCLUDED.tvdb_id, identifier_cache.tvdb_id)
			)`,
		m.PlexGUID, m.Kind, m.TMDBID, m.TVDBID, m.UpdatedAt,
	)
	return err
}
