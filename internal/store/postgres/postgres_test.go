package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/store"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// RemoveRequest
// ---------------------------------------------------------------------------

func TestRemoveRequest_Deleted(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM requests").
		WithArgs(models.KindMovie, int64(27205)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RemoveRequest(context.Background(), models.KindMovie, 27205); err != nil {
		t.Errorf("RemoveRequest() error = %v", err)
	}
}

func TestRemoveRequest_MissingIsNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RemoveRequest(context.Background(), models.KindTV, 1399)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("RemoveRequest() error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Delegation
// ---------------------------------------------------------------------------

func TestListRequests_PassesFilter(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT .+ FROM requests WHERE media_type = \\$1 AND fulfilled_at IS NULL").
		WithArgs(models.KindTV).
		WillReturnRows(sqlmock.NewRows([]string{"media_type", "tmdb_id", "title", "year", "overview",
			"poster_path", "imdb_id", "tvdb_id", "plex_guid", "requested_by", "created_at", "fulfilled_at"}).
			AddRow("tv", 1399, "Game of Thrones", nil, nil, nil, nil, 121361, nil, nil, time.Now(), nil))

	got, err := s.ListRequests(context.Background(), store.RequestFilter{Kind: models.KindTV, PendingOnly: true})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(got) != 1 || got[0].TMDBID != 1399 {
		t.Errorf("ListRequests() = %+v, want one request for 1399", got)
	}
}

func TestPruneAttempts(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM login_attempts WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PruneAttempts(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("PruneAttempts() error = %v", err)
	}
	if n != 3 {
		t.Errorf("PruneAttempts() = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// Ping
// ---------------------------------------------------------------------------

func TestPing(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectPing()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() = nil, want error")
	}
}
