package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/wallet-store/internal/persistence"
	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
)

// settingTable is probed by CheckAccess.
const settingTable = "setting"

// Storage wraps the wallet's SQLite database. Queries are refused until
// Migrate has brought the schema up to date.
type Storage struct {
	path   string
	db     *sql.DB
	logger *slog.Logger

	mu       sync.RWMutex
	migrated bool
	closed   bool
}

// Open opens the database file at path. The file and its directory are
// created when missing.
func Open(path string, cfg Config, logger *slog.Logger) (*Storage, error) {
	db, err := OpenDB(path, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		path:   path,
		db:     db,
		logger: logger.With("component", "storage", "path", path),
	}, nil
}

// Path returns the database file location.
func (s *Storage) Path() string {
	return s.path
}

// Migrate applies every pending unit and marks the storage ready. It returns
// the IDs applied by this call.
func (s *Storage) Migrate(ctx context.Context, units []migration.Unit, opts ...migration.Option) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, persistence.ErrClosed
	}

	engine, err := migration.NewEngine(s.db, units, append([]migration.Option{migration.WithLogger(s.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	applied, err := engine.MigrateUp(ctx)
	if err != nil {
		s.migrated = false
		return applied, fmt.Errorf("failed to apply migrations: %w", err)
	}
	s.migrated = true
	return applied, nil
}

// Engine returns a migration engine bound to the underlying handle for
// maintenance operations such as rollback and status. It does not require
// the storage to be migrated.
func (s *Storage) Engine(units []migration.Unit, opts ...migration.Option) (*migration.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, persistence.ErrClosed
	}
	return migration.NewEngine(s.db, units, append([]migration.Option{migration.WithLogger(s.logger)}, opts...)...)
}

// DB returns the underlying handle once the schema is up to date.
func (s *Storage) DB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return nil, persistence.ErrClosed
	case !s.migrated:
		return nil, persistence.ErrNotMigrated
	}
	return s.db, nil
}

// CheckAccess reports whether the settings table can be read.
func (s *Storage) CheckAccess(ctx context.Context) bool {
	db, err := s.DB()
	if err != nil {
		return false
	}
	rows, err := db.QueryContext(ctx, "SELECT name FROM "+settingTable+" LIMIT 1")
	if err != nil {
		s.logger.Warn("database access check failed", "error", err)
		return false
	}
	defer rows.Close()
	return rows.Err() == nil
}

// TransactionFunc represents a function that executes within a transaction
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes a function within a database transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (s *Storage) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	db, err := s.DB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, ErrorMapper{}.MapError(err))
		}
		return ErrorMapper{}.MapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
