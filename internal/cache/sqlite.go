package cache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/PauloHFS/llmcache/internal/config"
	"github.com/PauloHFS/llmcache/internal/llm"
	"github.com/PauloHFS/llmcache/internal/logging"
	"github.com/PauloHFS/llmcache/internal/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists entries in a single SQLite table. Writes replace
// any existing row for the fingerprint in one statement.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path, applies the
// configured pragmas and runs pending migrations.
func OpenSQLite(ctx context.Context, path string, cfg config.SQLiteConfig) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite cache: database path is required")
	}

	dsn := path
	if params := cfg.DSNParams(); params != "" {
		if strings.Contains(dsn, "?") {
			dsn += "&" + params
		} else {
			dsn += "?" + params
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.path = path

	// One connection keeps pragmas in effect for every statement and
	// serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := cfg.ApplyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return store, nil
}

// NewSQLiteStore uses an already open database, migrating it first.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys,
		goose.WithDisableGlobalRegistry(true),
		goose.WithSlog(logging.Get()),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	start := time.Now()
	e, ok, err := s.get(ctx, fp)
	observe(BackendSQLite, "get", start, getResult(ok, err))
	return e, ok, err
}

func (s *SQLiteStore) get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	var (
		reqData, respData []byte
		storedAt          int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request, response, stored_at FROM llm_cache_entries WHERE fingerprint = ?`,
		fp.String(),
	).Scan(&reqData, &respData, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query entry: %w", err)
	}

	e := &llm.Entry{Fingerprint: fp, StoredAt: time.Unix(0, storedAt).UTC()}
	if err := json.Unmarshal(reqData, &e.Request); err != nil {
		return nil, false, fmt.Errorf("failed to decode stored request: %w", err)
	}
	if err := json.Unmarshal(respData, &e.Response); err != nil {
		return nil, false, fmt.Errorf("failed to decode stored response: %w", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry llm.Entry) error {
	start := time.Now()
	err := s.put(ctx, entry)
	observe(BackendSQLite, "put", start, putResult(err))
	return err
}

func (s *SQLiteStore) put(ctx context.Context, entry llm.Entry) error {
	reqData, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	respData, err := json.Marshal(entry.Response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_cache_entries (fingerprint, model, request, response, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			model = excluded.model,
			request = excluded.request,
			response = excluded.response,
			stored_at = excluded.stored_at`,
		entry.Fingerprint.String(), entry.Request.Model().String(), reqData, respData, storedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var (
		count          int
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(stored_at), MAX(stored_at) FROM llm_cache_entries`,
	).Scan(&count, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}

	metrics.CacheEntries.WithLabelValues(BackendSQLite).Set(float64(count))

	st := Stats{Backend: BackendSQLite, Location: s.path, Entries: count}
	if oldest.Valid && newest.Valid {
		st.Oldest, st.Newest = timeRange(time.Unix(0, oldest.Int64).UTC(), time.Unix(0, newest.Int64).UTC())
	}
	return st, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, fp llm.Fingerprint) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM llm_cache_entries WHERE fingerprint = ?`, fp.String()); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM llm_cache_entries`); err != nil {
		return fmt.Errorf("failed to purge entries: %w", err)
	}
	metrics.CacheEntries.WithLabelValues(BackendSQLite).Set(0)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
