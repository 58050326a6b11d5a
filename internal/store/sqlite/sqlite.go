// Package sqlite implements the store.Store interface on an embedded SQLite
// database with an FTS5 trigram index over event messages.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements store.Store backed by a single SQLite connection.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements store.Store.
var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at path and runs any pending
// migrations. Use MemoryPath for a throwaway database.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return store.Fail("ping", s.db.PingContext(ctx))
}

// Insert writes the event row and its search entry in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, event *model.Event) error {
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.Insert(ctx, event)
	})
	return store.Fail("insert", err)
}

func (s *SQLiteStore) Scan(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	events, err := queryScanEvents(ctx, s.db, filter)
	return events, store.Fail("scan", err)
}

func (s *SQLiteStore) ScanByTrace(ctx context.Context, traceID string) ([]*model.Event, error) {
	events, err := queryScanTrace(ctx, s.db, traceID)
	return events, store.Fail("scan trace", err)
}

func (s *SQLiteStore) ScanRange(ctx context.Context, after store.Cursor, until int64, limit int) ([]*model.Event, error) {
	events, err := queryScanRange(ctx, s.db, after, until, limit)
	return events, store.Fail("scan range", err)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) Insert(ctx context.Context, event *model.Event) error {
	return queryInsertEvent(ctx, s.tx, event)
}

func (s *txStore) Scan(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryScanEvents(ctx, s.tx, filter)
}

func (s *txStore) ScanByTrace(ctx context.Context, traceID string) ([]*model.Event, error) {
	return queryScanTrace(ctx, s.tx, traceID)
}

func (s *txStore) ScanRange(ctx context.Context, after store.Cursor, until int64, limit int) ([]*model.Event, error) {
	return queryScanRange(ctx, s.tx, after, until, limit)
}

func (s *txStore) Ping(ctx context.Context) error {
	return nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Close() error {
	return nil
}
