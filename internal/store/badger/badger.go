// Package badger implements an embedded store backend on BadgerDB for
// single-node deployments that do not want to run PostgreSQL.
//
// Records are JSON documents under typed key prefixes. Secondary lookups
// (by TVDB id, IMDb id or Plex GUID) scan the relevant prefix, which is fine
// at household library sizes. Read-modify-write operations run inside a
// single Update transaction and are retried on badger.ErrConflict, so they
// stay atomic when several goroutines race on the same key.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/db/models"
	"github.com/overseer-lite/overseer-lite/internal/store"
)

// Key prefixes
const (
	requestPrefix = "req:"
	libraryPrefix = "lib:"
	mappingPrefix = "map:"
	attemptPrefix = "att:"
	settingPrefix = "set:"
)

const (
	maxConflictRetries = 64
	attemptGrace       = 60 * time.Second
)

func init() {
	store.Register("badger", func(_ context.Context, cfg *config.Config) (store.Store, error) {
		return Open(cfg.Store.Badger)
	})
}

// Store implements store.Store with BadgerDB
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) the database described by cfg
func Open(cfg config.BadgerStoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func requestKey(kind models.Kind, tmdbID int64) []byte {
	return []byte(requestPrefix + string(kind) + ":" + strconv.FormatInt(tmdbID, 10))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// scan decodes every value under prefix and stops early when fn returns false.
func scan[T any](txn *badger.Txn, prefix string, fn func(*T) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		if !fn(&v) {
			return nil
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func (s *Store) AddRequest(ctx context.Context, req *models.Request) (bool, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	added := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		added = false
		key := requestKey(req.Kind, req.TMDBID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return setJSON(txn, key, req)
	})
	return added, err
}

func (s *Store) RemoveRequest(ctx context.Context, kind models.Kind, tmdbID int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := requestKey(kind, tmdbID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (s *Store) GetRequest(_ context.Context, kind models.Kind, tmdbID int64) (*models.Request, error) {
	var req models.Request
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, requestKey(kind, tmdbID), &req)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListRequests(_ context.Context, filter store.RequestFilter) ([]*models.Request, error) {
	prefix := requestPrefix
	if filter.Kind != "" {
		prefix += string(filter.Kind) + ":"
	}
	requests := []*models.Request{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefix, func(r *models.Request) bool {
			if !filter.PendingOnly || r.IsPending() {
				requests = append(requests, r)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

// findRequest returns the oldest request of kind matching fn.
func (s *Store) findRequest(prefix string, match func(*models.Request) bool) (*models.Request, error) {
	var found *models.Request
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefix, func(r *models.Request) bool {
			if match(r) && (found == nil || r.CreatedAt.Before(found.CreatedAt)) {
				found = r
			}
			return true
		})
	})
	return found, err
}

func (s *Store) FindRequestByTVDB(_ context.Context, kind models.Kind, tvdbID int64) (*models.Request, error) {
	return s.findRequest(requestPrefix+string(kind)+":", func(r *models.Request) bool {
		return r.TVDBID != nil && *r.TVDBID == tvdbID
	})
}

func (s *Store) FindRequestByIMDb(_ context.Context, kind models.Kind, imdbID string) (*models.Request, error) {
	return s.findRequest(requestPrefix+string(kind)+":", func(r *models.Request) bool {
		return r.IMDbID != nil && *r.IMDbID == imdbID
	})
}

func (s *Store) FindRequestByPlexGUID(_ context.Context, plexGUID string) (*models.Request, error) {
	return s.findRequest(requestPrefix, func(r *models.Request) bool {
		return r.PlexGUID != nil && *r.PlexGUID == plexGUID
	})
}

func (s *Store) MarkFulfilled(ctx context.Context, kind models.Kind, tmdbID int64, at time.Time) (*models.Request, error) {
	var flipped *models.Request
	err := s.update(ctx, func(txn *badger.Txn) error {
		flipped = nil
		var req models.Request
		found, err := getJSON(txn, requestKey(kind, tmdbID), &req)
		if err != nil || !found || !req.IsPending() {
			return err
		}
		req.FulfilledAt = &at
		if err := setJSON(txn, requestKey(kind, tmdbID), &req); err != nil {
			return err
		}
		flipped = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flipped, nil
}

func (s *Store) SetRequestPlexGUID(ctx context.Context, kind models.Kind, tmdbID int64, plexGUID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var req models.Request
		found, err := getJSON(txn, requestKey(kind, tmdbID), &req)
		if err != nil || !found {
			return err
		}
		req.PlexGUID = &plexGUID
		return setJSON(txn, requestKey(kind, tmdbID), &req)
	})
}

// ---------------------------------------------------------------------------
// Library
// ---------------------------------------------------------------------------

// mergeLibrary folds incoming into existing the same way the SQL upsert does
// and reports whether anything changed.
func mergeLibrary(existing, incoming *models.LibraryItem) bool {
	changed := false
	if incoming.TVDBID != nil && (existing.TVDBID == nil || *existing.TVDBID != *incoming.TVDBID) {
		existing.TVDBID = incoming.TVDBID
		changed = true
	}
	if incoming.IMDbID != nil && (existing.IMDbID == nil || *existing.IMDbID != *incoming.IMDbID) {
		existing.IMDbID = incoming.IMDbID
		changed = true
	}
	if incoming.PlexGUID != nil && (existing.PlexGUID == nil || *existing.PlexGUID != *incoming.PlexGUID) {
		existing.PlexGUID = incoming.PlexGUID
		changed = true
	}
	if incoming.Title != "" && incoming.Title != existing.Title {
		existing.Title = incoming.Title
		changed = true
	}
	if incoming.Year != nil && (existing.Year == nil || *existing.Year != *incoming.Year) {
		existing.Year = incoming.Year
		changed = true
	}
	return changed
}

func (s *Store) upsertLibrary(txn *badger.Txn, item *models.LibraryItem, now time.Time) error {
	plexGUID := ""
	if item.PlexGUID != nil {
		plexGUID = *item.PlexGUID
	}
	item.Key = models.LibraryKey(item.Kind, item.TMDBID, plexGUID)
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	key := []byte(libraryPrefix + item.Key)

	// A resolved item replaces the placeholder kept under its Plex GUID.
	if item.TMDBID > 0 && plexGUID != "" {
		placeholder := []byte(libraryPrefix + models.LibraryKey(item.Kind, 0, plexGUID))
		if err := txn.Delete(placeholder); err != nil {
			return err
		}
	}

	var existing models.LibraryItem
	found, err := getJSON(txn, key, &existing)
	if err != nil {
		return err
	}
	if !found {
		item.UpdatedAt = item.AddedAt
		return setJSON(txn, key, item)
	}
	if !mergeLibrary(&existing, item) {
		return nil
	}
	existing.UpdatedAt = now
	return setJSON(txn, key, &existing)
}

func (s *Store) UpsertLibraryItem(ctx context.Context, item *models.LibraryItem) error {
	now := s.now()
	return s.update(ctx, func(txn *badger.Txn) error {
		return s.upsertLibrary(txn, item, now)
	})
}

func (s *Store) SyncLibrary(ctx context.Context, kind models.Kind, items []models.SyncItem, clearFirst bool) (int, error) {
	now := s.now()
	count := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		count = 0
		if clearFirst {
			if err := deletePrefix(txn, libraryPrefix+string(kind)+":"); err != nil {
				return err
			}
		}
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
			if err := s.upsertLibrary(txn, item, now); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func deletePrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) IsInLibrary(_ context.Context, kind models.Kind, tmdbID int64) (bool, error) {
	key := []byte(libraryPrefix + models.LibraryKey(kind, tmdbID, ""))
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

func (s *Store) LibraryIDs(_ context.Context, kind models.Kind) ([]int64, error) {
	ids := []int64{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, libraryPrefix+string(kind)+":", func(item *models.LibraryItem) bool {
			ids = append(ids, item.TMDBID)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) findLibrary(kind models.Kind, match func(*models.LibraryItem) bool) (*models.LibraryItem, error) {
	var found *models.LibraryItem
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, libraryPrefix+string(kind)+":", func(item *models.LibraryItem) bool {
			if match(item) && (found == nil || item.AddedAt.Before(found.AddedAt)) {
				found = item
			}
			return true
		})
	})
	return found, err
}

func (s *Store) FindLibraryByTVDB(_ context.Context, kind models.Kind, tvdbID int64) (*models.LibraryItem, error) {
	return s.findLibrary(kind, func(item *models.LibraryItem) bool {
		return item.TVDBID != nil && *item.TVDBID == tvdbID
	})
}

func (s *Store) FindLibraryByIMDb(_ context.Context, kind models.Kind, imdbID string) (*models.LibraryItem, error) {
	return s.findLibrary(kind, func(item *models.LibraryItem) bool {
		return item.IMDbID != nil && *item.IMDbID == imdbID
	})
}

// ---------------------------------------------------------------------------
// Identifier cache
// ---------------------------------------------------------------------------

func (s *Store) GetMapping(_ context.Context, plexGUID string) (*models.IdentifierMapping, error) {
	var m models.IdentifierMapping
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, []byte(mappingPrefix+plexGUID), &m)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

func (s *Store) PutMapping(ctx context.Context, m *models.IdentifierMapping) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	key := []byte(mappingPrefix + m.PlexGUID)
	return s.update(ctx, func(txn *badger.Txn) error {
		next := *m
		var existing models.IdentifierMapping
		found, err := getJSON(txn, key, &existing)
		if err != nil {
			return err
		}
		if found {
			if next.TVDBID == nil {
				next.TVDBID = existing.TVDBID
			}
			if sameMapping(&existing, &next) {
				return nil
			}
		}
		return setJSON(txn, key, &next)
	})
}

func sameMapping(a, b *models.IdentifierMapping) bool {
	if a.Kind != b.Kind || a.TMDBID != b.TMDBID {
		return false
	}
	if (a.TVDBID == nil) != (b.TVDBID == nil) {
		return false
	}
	return a.TVDBID == nil || *a.TVDBID == *b.TVDBID
}

// ---------------------------------------------------------------------------
// Login attempts
// ---------------------------------------------------------------------------

func (s *Store) FailedAttempts(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	var a models.LoginAttempt
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, []byte(attemptPrefix+key), &a)
		return err
	})
	if err != nil || !found || !a.Active(window, now) {
		return 0, err
	}
	return a.FailedAttempts, nil
}

func (s *Store) RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	count := 0
	k := []byte(attemptPrefix + key)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var a models.LoginAttempt
		found, err := getJSON(txn, k, &a)
		if err != nil {
			return err
		}
		if !found || !a.Active(window, now) {
			a = models.LoginAttempt{ClientKey: key, WindowStart: now}
		}
		a.FailedAttempts++
		a.ExpiresAt = now.Add(window + attemptGrace)
		count = a.FailedAttempts

		data, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		ttl := a.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			ttl = attemptGrace
		}
		return txn.SetEntry(badger.NewEntry(k, data).WithTTL(ttl))
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ClearFailures(ctx context.Context, key string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(attemptPrefix + key))
	})
}

// PruneAttempts is a no-op: counters carry a TTL and expire on their own.
func (s *Store) PruneAttempts(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

func (s *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(settingPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(settingPrefix+key), []byte(value))
	})
}

func (s *Store) SetSettingIfAbsent(ctx context.Context, key, value string) (string, error) {
	stored := value
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored = value
		k := []byte(settingPrefix + key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(k, []byte(value))
		}
		if err != nil {
			return err
		}
		existing, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stored = string(existing)
		return nil
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ping reports whether the database is open
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
