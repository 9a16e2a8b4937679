package migration

import (
	"context"
	"database/sql"
	"time"
)

// Tx is the part of *sql.Tx a migration step may use.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the open store handle the engine operates on. *sql.DB satisfies it.
type DB interface {
	Conn(ctx context.Context) (*sql.Conn, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StepFunc mutates the store inside the transaction of a single migration step.
type StepFunc func(ctx context.Context, tx Tx) error

// Unit is one compiled-in schema change.
//
// IDs are compared byte-wise; timestamp-prefixed names such as
// "20210618092200_account_primary_key" keep that order meaningful. A released
// unit must never change: new schema changes are new units.
type Unit struct {
	ID          string   // Unique, build-time identifier that defines application order
	Description string   // Human-readable summary used in logs
	Apply       StepFunc // Forward change
	Revert      StepFunc // Inverse change; nil marks the unit as irreversible

	// DisableForeignKeys switches foreign key enforcement off on the step's
	// connection while the step runs. Enforcement is restored afterwards and
	// PRAGMA foreign_key_check must report no violations before commit.
	DisableForeignKeys bool
}

// Reversible reports whether the unit can be rolled back.
func (u Unit) Reversible() bool {
	return u.Revert != nil
}

// Status provides information about the current migration state
type Status struct {
	CurrentVersion    string             // Latest applied unit ID, empty when nothing is applied
	PendingCount      int                // Number of pending units
	AppliedMigrations []AppliedMigration // Ledger rows in ascending ID order
	PendingMigrations []Unit             // Pending units in application order
}

// AppliedMigration represents a ledger row
type AppliedMigration struct {
	Version       string        // Unit ID
	AppliedAt     time.Time     // When the unit was applied
	ExecutionTime time.Duration // How long the step took
	RunID         string        // MigrateUp run that applied the unit
}
