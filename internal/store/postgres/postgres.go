// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return store.Fail("ping", s.db.PingContext(ctx))
}

// Insert writes the event row and its search entry in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, event *model.Event) error {
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.Insert(ctx, event)
	})
	return store.Fail("insert", err)
}

func (s *PostgresStore) Scan(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	events, err := queryScanEvents(ctx, s.db, filter)
	return events, store.Fail("scan", err)
}

func (s *PostgresStore) ScanByTrace(ctx context.Context, traceID string) ([]*model.Event, error) {
	events, err := queryScanTrace(ctx, s.db, traceID)
	return events, store.Fail("scan trace", err)
}

func (s *PostgresStore) ScanRange(ctx context.Context, after store.Cursor, until int64, limit int) ([]*model.Event, error) {
	events, err := queryScanRange(ctx, s.db, after, until, limit)
	return events, store.Fail("scan range", err)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
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

// Compile-time check that txStore implements store.Store.
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

// Ping is a no-op inside a transaction.
func (s *txStore) Ping(ctx context.Context) error {
	return nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
