// Package sqlitestore provides a durable storage medium on SQLite.
//
// All scopes live in one table:
//
//	CREATE TABLE storage_kv (
//	    scope TEXT NOT NULL,
//	    key TEXT NOT NULL,
//	    value TEXT NOT NULL,
//	    updated_at INTEGER NOT NULL,
//	    PRIMARY KEY (scope, key)
//	);
//
// Every handle returned by DB.Store for the same scope shares one change
// feed, so a write through one handle reaches the listeners of the others.
// Writes made by other processes on the same file are not observed.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Option configures a DB.
type Option func(*dbConfig)

type dbConfig struct {
	tableName string
	maxBytes  int64
	logger    *slog.Logger
}

// WithTableName sets the table name.
// Default: "storage_kv".
func WithTableName(name string) Option {
	return func(c *dbConfig) {
		c.tableName = name
	}
}

// WithMaxBytes caps each scope at n bytes, counted as len(key)+len(value)
// over its entries. Zero disables the cap.
// Default: 0.
func WithMaxBytes(n int64) Option {
	return func(c *dbConfig) {
		c.maxBytes = n
	}
}

// WithLogger sets the logger for read failures, which Store.Get cannot
// return. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *dbConfig) {
		c.logger = logger
	}
}

// DB is a SQLite database holding any number of storage scopes.
type DB struct {
	sqlDB    *sql.DB
	ownsDB   bool
	table    string
	maxBytes int64
	logger   *slog.Logger

	// writeMu serializes writes so the quota check and the old value read
	// see the same state as the write that follows them.
	writeMu sync.Mutex

	feedsMu sync.Mutex
	feeds   map[string]*storage.Feed

	closed atomic.Bool
}

// Open opens (creating if needed) the SQLite file at path. ":memory:" opens
// a private in-memory database.
func Open(path string, opts ...Option) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}

	db, err := New(sqlDB, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	db.ownsDB = true
	return db, nil
}

// New uses an existing connection pool and creates the table if missing.
// Close does not close a pool passed to New.
func New(sqlDB *sql.DB, opts ...Option) (*DB, error) {
	cfg := &dbConfig{tableName: "storage_kv"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	db := &DB{
		sqlDB:    sqlDB,
		table:    cfg.tableName,
		maxBytes: cfg.maxBytes,
		logger:   cfg.logger,
		feeds:    make(map[string]*storage.Feed),
	}
	if err := db.createTable(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scope, key)
		)
	`, db.table)
	if _, err := db.sqlDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlitestore: create table: %w", err)
	}
	return nil
}

// Close releases the database. Stores created from it become unavailable.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	db.feedsMu.Lock()
	for _, f := range db.feeds {
		f.Reset()
	}
	db.feedsMu.Unlock()

	if db.ownsDB {
		return db.sqlDB.Close()
	}
	return nil
}

// Store returns a new handle on scope. Each handle has its own Area.
func (db *DB) Store(scope string, kind storage.Kind) *Store {
	return &Store{
		db:    db,
		scope: scope,
		kind:  kind,
		area:  uuid.NewString(),
		feed:  db.feed(scope),
	}
}

// Scopes lists the scopes that hold at least one key.
func (db *DB) Scopes(ctx context.Context) ([]string, error) {
	if db.closed.Load() {
		return nil, storage.NewUnavailableError("scopes", "", nil)
	}
	rows, err := db.sqlDB.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT scope FROM %s ORDER BY scope`, db.table))
	if err != nil {
		return nil, db.mapError("scopes", "", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, db.mapError("scopes", "", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

func (db *DB) feed(scope string) *storage.Feed {
	db.feedsMu.Lock()
	defer db.feedsMu.Unlock()

	f, ok := db.feeds[scope]
	if !ok {
		f = &storage.Feed{}
		db.feeds[scope] = f
	}
	return f
}

// mapError classifies a driver error. A full disk or an oversized value is
// a quota failure; anything else makes the medium unavailable.
func (db *DB) mapError(op, key string, err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_FULL, sqlite3lib.SQLITE_TOOBIG:
			return storage.NewQuotaError(op, key, err)
		}
	}
	return storage.NewUnavailableError(op, key, err)
}

// Store is one handle on a scope of a DB. It implements storage.Store and
// storage.Lister.
type Store struct {
	db    *DB
	scope string
	kind  storage.Kind
	area  string
	feed  *storage.Feed
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

func (s *Store) Kind() storage.Kind { return s.kind }
func (s *Store) Area() string       { return s.area }

// Scope returns the scope name.
func (s *Store) Scope() string { return s.scope }

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if s.db.closed.Load() {
		return "", false
	}

	value, ok, err := s.get(ctx, s.db.sqlDB, key)
	if err != nil {
		s.db.logger.Debug("sqlitestore read failed", "scope", s.scope, "key", key, "error", err)
		return "", false
	}
	return value, ok
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE scope = ? AND key = ?`, s.db.table)

	var value string
	if err := q.QueryRowContext(ctx, query, s.scope, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.db.closed.Load() {
		return storage.NewUnavailableError("set", key, nil)
	}

	s.db.writeMu.Lock()
	ev, err := s.set(ctx, key, value)
	s.db.writeMu.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		s.feed.Publish(*ev)
	}
	return nil
}

func (s *Store) set(ctx context.Context, key, value string) (*storage.ChangeEvent, error) {
	tx, err := s.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.db.mapError("set", key, err)
	}
	defer tx.Rollback()

	old, had, err := s.get(ctx, tx, key)
	if err != nil {
		return nil, s.db.mapError("set", key, err)
	}
	if had && old == value {
		return nil, nil
	}

	if s.db.maxBytes > 0 {
		used, err := s.usedBytes(ctx, tx)
		if err != nil {
			return nil, s.db.mapError("set", key, err)
		}
		used += int64(len(value))
		if had {
			used -= int64(len(old))
		} else {
			used += int64(len(key))
		}
		if used > s.db.maxBytes {
			return nil, storage.NewQuotaError("set", key, nil)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.db.table)
	if _, err := tx.ExecContext(ctx, query, s.scope, key, value, time.Now().UnixMilli()); err != nil {
		return nil, s.db.mapError("set", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.db.mapError("set", key, err)
	}

	ev := &storage.ChangeEvent{Key: key, NewValue: storage.StringPtr(value), Area: s.area, Kind: s.kind}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	return ev, nil
}

func (s *Store) usedBytes(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0)
		FROM %s WHERE scope = ?
	`, s.db.table)

	var used int64
	err := tx.QueryRowContext(ctx, query, s.scope).Scan(&used)
	return used, err
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s.db.closed.Load() {
		return storage.NewUnavailableError("remove", key, nil)
	}

	s.db.writeMu.Lock()
	old, had, err := s.remove(ctx, key)
	s.db.writeMu.Unlock()
	if err != nil {
		return err
	}
	if had {
		s.feed.Publish(storage.ChangeEvent{Key: key, OldValue: storage.StringPtr(old), Area: s.area, Kind: s.kind})
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string) (string, bool, error) {
	tx, err := s.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", false, s.db.mapError("remove", key, err)
	}
	defer tx.Rollback()

	old, had, err := s.get(ctx, tx, key)
	if err != nil {
		return "", false, s.db.mapError("remove", key, err)
	}
	if !had {
		return "", false, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = ? AND key = ?`, s.db.table)
	if _, err := tx.ExecContext(ctx, query, s.scope, key); err != nil {
		return "", false, s.db.mapError("remove", key, err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, s.db.mapError("remove", key, err)
	}
	return old, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if s.db.closed.Load() {
		return storage.NewUnavailableError("clear", "", nil)
	}

	s.db.writeMu.Lock()
	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = ?`, s.db.table)
	res, err := s.db.sqlDB.ExecContext(ctx, query, s.scope)
	s.db.writeMu.Unlock()
	if err != nil {
		return s.db.mapError("clear", "", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.feed.Publish(storage.ChangeEvent{Area: s.area, Kind: s.kind})
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s.db.closed.Load() {
		return nil, storage.NewUnavailableError("keys", "", nil)
	}

	query := fmt.Sprintf(`SELECT key FROM %s WHERE scope = ?`, s.db.table)
	rows, err := s.db.sqlDB.QueryContext(ctx, query, s.scope)
	if err != nil {
		return nil, s.db.mapError("keys", "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, s.db.mapError("keys", "", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.mapError("keys", "", err)
	}
	// Byte order, independent of the column collation.
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	if s.db.closed.Load() {
		return func() {}
	}
	return s.feed.Subscribe(fn)
}
