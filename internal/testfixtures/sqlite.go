package testfixtures

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/wallet-store/internal/persistence/sqlite"
	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
	"github.com/example/wallet-store/internal/persistence/sqlite/schema"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OpenDB opens a pooled connection to a fresh temporary database file with
// the production connection settings. The pool is closed on cleanup.
func OpenDB(tb testing.TB) *sql.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "wallet.db")
	db, err := sqlite.OpenDB(path, sqlite.DefaultConfig())
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

// StoreHarness wraps a Storage backed by a temporary file together with the
// deterministic clock and run IDs handed to its migration engine.
type StoreHarness struct {
	Storage *sqlite.Storage
	Path    string
	Clock   *Clock
	RunIDs  *RunIDs

	cleanup func()
}

// Options returns the engine options binding the harness clock and run IDs.
func (h *StoreHarness) Options() []migration.Option {
	return []migration.Option{
		migration.WithClock(h.Clock.NowFunc()),
		migration.WithRunID(h.RunIDs.NextFunc()),
	}
}

// Engine returns an engine over the full wallet registry.
func (h *StoreHarness) Engine(tb testing.TB) *migration.Engine {
	tb.Helper()
	engine, err := h.Storage.Engine(schema.Units(), h.Options()...)
	if err != nil {
		tb.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewStoreHarness opens an unmigrated Storage on a temporary file. Callers
// may invoke Close, but the helper also registers cleanup with tb.
func NewStoreHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "wallet.db")
	storage, err := sqlite.Open(path, sqlite.DefaultConfig(), DiscardLogger())
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &StoreHarness{
		Storage: storage,
		Path:    path,
		Clock:   NewClock(ReferenceTime()),
		RunIDs:  NewRunIDs(""),
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMigratedStore returns a harness whose storage has every wallet unit applied.
func NewMigratedStore(tb testing.TB) *StoreHarness {
	tb.Helper()

	harness := NewStoreHarness(tb)
	if _, err := harness.Storage.Migrate(context.Background(), schema.Units(), harness.Options()...); err != nil {
		harness.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return harness
}
