package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by Get when no row has the requested identifier.
var ErrNotFound = errors.New("recording not found")

// BlobRemover deletes audio files referenced by catalog rows.
type BlobRemover interface {
	Remove(path string) error
}

type osRemover struct{}

func (osRemover) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Option configures a Store.
type Option func(*Store)

// WithBlobRemover overrides how Delete removes audio files.
func WithBlobRemover(r BlobRemover) Option {
	return func(s *Store) {
		s.blobs = r
	}
}

// Store is the recordings catalog. The database is opened and migrated on
// the first call to any method.
type Store struct {
	path  string
	blobs BlobRemover

	mu    sync.RWMutex
	db    *sqlx.DB
	group singleflight.Group
}

// New returns a Store for the SQLite database at path. No I/O happens until
// the store is first used.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:  path,
		blobs: osRemover{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// conn returns the open database, initializing it at most once at a time.
func (s *Store) conn(ctx context.Context) (*sqlx.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := s.group.Do("init", func() (interface{}, error) {
		s.mu.RLock()
		existing := s.db
		s.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		// Shared by every waiter, so one caller's cancellation must not fail it
		db, err := open(context.WithoutCancel(ctx), s.path)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.db = db
		s.mu.Unlock()

		slog.Debug("Catalog initialized", "path", s.path)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

func open(ctx context.Context, path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between
	// our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// m.Close would also close db, so only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database if it was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const selectColumns = `id, file_path, title, created_at, photo_path, is_favorite, latitude, longitude, place_name`

// Add inserts rec and returns its new identifier, which is also stored in rec.ID.
func (s *Store) Add(ctx context.Context, rec *Recording) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.NamedExecContext(ctx, `
		INSERT INTO recordings (file_path, title, created_at, photo_path, is_favorite, latitude, longitude, place_name)
		VALUES (:file_path, :title, :created_at, :photo_path, :is_favorite, :latitude, :longitude, :place_name)
	`, fromRecording(*rec))
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	rec.ID = id

	slog.Debug("Recording added", "id", id, "title", rec.Title)
	return id, nil
}

// Get returns the recording with the given identifier.
func (s *Store) Get(ctx context.Context, id int64) (*Recording, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	r, err := find(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	rec := r.toRecording()
	return &rec, nil
}

// All returns every recording, newest first.
func (s *Store) All(ctx context.Context) ([]Recording, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM recordings ORDER BY created_at DESC, id DESC`)
}

// Favorites returns the favorite recordings, newest first.
func (s *Store) Favorites(ctx context.Context) ([]Recording, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM recordings WHERE is_favorite = 1 ORDER BY created_at DESC, id DESC`)
}

func (s *Store) list(ctx context.Context, query string) ([]Recording, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}

	recs := make([]Recording, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.toRecording())
	}
	return recs, nil
}

// SetFavorite updates only the favorite flag. Unknown identifiers affect 0 rows.
func (s *Store) SetFavorite(ctx context.Context, id int64, favorite bool) (int64, error) {
	return s.update(ctx, id, `UPDATE recordings SET is_favorite = ? WHERE id = ?`, favorite, id)
}

// UpdateLocation sets the coordinates and place name. A non-finite latitude or
// longitude clears both.
func (s *Store) UpdateLocation(ctx context.Context, id int64, lat, lng float64, place string) (int64, error) {
	nlat, nlng := coordinates(lat, lng)
	return s.update(ctx, id,
		`UPDATE recordings SET latitude = ?, longitude = ?, place_name = ? WHERE id = ?`,
		nlat, nlng, nullString(place), id)
}

// UpdatePhoto sets the photo path. An empty path clears it.
func (s *Store) UpdatePhoto(ctx context.Context, id int64, path string) (int64, error) {
	return s.update(ctx, id, `UPDATE recordings SET photo_path = ? WHERE id = ?`, nullString(path), id)
}

// update runs a fetch-then-update inside one transaction.
func (s *Store) update(ctx context.Context, id int64, query string, args ...interface{}) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := find(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update recording %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update recording %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Delete removes the row. With deleteBlob set the audio file is removed first
// on a best-effort basis; the photo file is left in place.
func (s *Store) Delete(ctx context.Context, id int64, deleteBlob bool) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	existing, err := find(ctx, db, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, nil
	}

	if deleteBlob && strings.TrimSpace(existing.FilePath) != "" {
		if err := s.blobs.Remove(existing.FilePath); err != nil {
			slog.Warn("Failed to delete recording file", "id", id, "path", existing.FilePath, "error", err)
		}
	}

	res, err := db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete recording %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete recording %d: %w", id, err)
	}

	slog.Debug("Recording deleted", "id", id, "blob", deleteBlob)
	return n, nil
}

type querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func find(ctx context.Context, q querier, id int64) (*row, error) {
	var r row
	err := q.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM recordings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recording %d: %w", id, err)
	}
	return &r, nil
}
