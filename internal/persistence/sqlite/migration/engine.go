package migration

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/wallet-store/internal/logging"
)

// Engine applies and reverts a closed, ordered list of units against one store.
type Engine struct {
	db     DB
	units  []Unit
	index  map[string]int
	logger *slog.Logger
	now    func() time.Time
	runID  func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the base logger. A logger carried by the context takes precedence.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source used for ledger timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunID overrides the generator of MigrateUp run identifiers.
func WithRunID(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.runID = gen
		}
	}
}

// NewEngine validates the unit registry and returns an engine bound to db.
// The registry is copied and sorted by ID ascending.
func NewEngine(db DB, units []Unit, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("migration: nil database handle")
	}

	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	index := make(map[string]int, len(sorted))
	for i, unit := range sorted {
		if unit.ID == "" || strings.TrimSpace(unit.ID) != unit.ID {
			return nil, fmt.Errorf("%w: identifier %q must be non-empty without surrounding whitespace", ErrInvalidUnit, unit.ID)
		}
		if unit.Apply == nil {
			return nil, fmt.Errorf("%w: unit %s has no apply step", ErrInvalidUnit, unit.ID)
		}
		if _, exists := index[unit.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVersion, unit.ID)
		}
		index[unit.ID] = i
	}

	e := &Engine{
		db:    db,
		units: sorted,
		index: index,
		now:   time.Now,
		runID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Units returns the registry in application order.
func (e *Engine) Units() []Unit {
	out := make([]Unit, len(e.units))
	copy(out, e.units)
	return out
}

func (e *Engine) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Component(ctx, e.logger, "migration", operation, attrs...)
}

// loadVerified ensures the ledger exists, loads it and rejects rows that
// have no registered unit.
func (e *Engine) loadVerified(ctx context.Context) ([]AppliedMigration, map[string]bool, error) {
	if err := ensureLedger(ctx, e.db); err != nil {
		return nil, nil, err
	}
	applied, err := loadLedger(ctx, e.db)
	if err != nil {
		return nil, nil, err
	}

	appliedSet := make(map[string]bool, len(applied))
	var unknown []string
	for _, row := range applied {
		appliedSet[row.Version] = true
		if _, ok := e.index[row.Version]; !ok {
			unknown = append(unknown, row.Version)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, &UnknownIdentifierError{Versions: unknown}
	}
	return applied, appliedSet, nil
}

// Verify checks the ledger against the registry without changing anything.
func (e *Engine) Verify(ctx context.Context) error {
	_, _, err := e.loadVerified(ctx)
	return err
}

// Pending returns the units not yet recorded in the ledger, in application order.
func (e *Engine) Pending(ctx context.Context) ([]Unit, error) {
	_, appliedSet, err := e.loadVerified(ctx)
	if err != nil {
		return nil, err
	}
	return e.pending(appliedSet), nil
}

func (e *Engine) pending(appliedSet map[string]bool) []Unit {
	pending := make([]Unit, 0)
	for _, unit := range e.units {
		if !appliedSet[unit.ID] {
			pending = append(pending, unit)
		}
	}
	return pending
}

// MigrateUp applies every pending unit in ascending ID order and returns the
// IDs it applied. The first failing step aborts the run; units applied before
// it stay recorded and are returned alongside the error.
//
// Cancelling ctx does not interrupt the run.
func (e *Engine) MigrateUp(ctx context.Context) ([]string, error) {
	ctx = context.WithoutCancel(ctx)
	runID := e.runID()
	logger := e.log(ctx, "migrate_up", "run_id", runID)
	start := e.now()

	_, appliedSet, err := e.loadVerified(ctx)
	if err != nil {
		logger.Error("failed to load migration ledger", "error", err, "error_kind", ErrorKind(err))
		return []string{}, err
	}

	pending := e.pending(appliedSet)
	applied := make([]string, 0, len(pending))
	if len(pending) == 0 {
		logger.Info("database schema is up to date", "registered", len(e.units))
		return applied, nil
	}

	logger.Info("migration execution starting", "pending_count", len(pending))
	for i, unit := range pending {
		stepStart := e.now()
		unitLogger := logger.With("version", unit.ID, "step", i+1, "of", len(pending))
		unitLogger.Info("applying migration", "description", unit.Description)

		err := e.runStep(ctx, unit, Up, unit.Apply, func(ctx context.Context, tx Tx) error {
			return recordVersion(ctx, tx, AppliedMigration{
				Version:       unit.ID,
				AppliedAt:     e.now(),
				ExecutionTime: e.now().Sub(stepStart),
				RunID:         runID,
			})
		})
		if err != nil {
			unitLogger.Error("migration failed, aborting run", "error", err, "error_kind", ErrorKind(err))
			return applied, err
		}

		applied = append(applied, unit.ID)
		unitLogger.Info("migration applied", "duration", e.now().Sub(stepStart))
	}

	logger.Info("database migrations completed successfully",
		"applied_count", len(applied), "current_version", applied[len(applied)-1], "duration", e.now().Sub(start))
	return applied, nil
}

// MigrateDown reverts, in descending ID order, every applied unit whose ID is
// strictly greater than target. An empty target reverts everything. If any
// of those units is irreversible nothing is reverted.
func (e *Engine) MigrateDown(ctx context.Context, target string) ([]string, error) {
	ctx = context.WithoutCancel(ctx)
	logger := e.log(ctx, "migrate_down", "target", target)

	if target != "" {
		if _, ok := e.index[target]; !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownTarget, target)
			logger.Error("rollback rejected", "error", err)
			return []string{}, err
		}
	}

	applied, _, err := e.loadVerified(ctx)
	if err != nil {
		logger.Error("failed to load migration ledger", "error", err, "error_kind", ErrorKind(err))
		return []string{}, err
	}

	plan := make([]Unit, 0)
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].Version <= target {
			break
		}
		plan = append(plan, e.units[e.index[applied[i].Version]])
	}

	for _, unit := range plan {
		if !unit.Reversible() {
			err := &IrreversibleError{Version: unit.ID, Target: target}
			logger.Error("rollback rejected", "error", err, "version", unit.ID)
			return []string{}, err
		}
	}

	reverted := make([]string, 0, len(plan))
	if len(plan) == 0 {
		logger.Info("nothing to roll back")
		return reverted, nil
	}

	logger.Warn("rollback starting", "revert_count", len(plan))
	for _, unit := range plan {
		stepStart := e.now()
		unitLogger := logger.With("version", unit.ID)

		err := e.runStep(ctx, unit, Down, unit.Revert, func(ctx context.Context, tx Tx) error {
			return removeVersion(ctx, tx, unit.ID)
		})
		if err != nil {
			unitLogger.Error("rollback failed, aborting run", "error", err, "error_kind", ErrorKind(err))
			return reverted, err
		}

		reverted = append(reverted, unit.ID)
		unitLogger.Info("migration reverted", "duration", e.now().Sub(stepStart))
	}

	logger.Info("rollback completed", "reverted_count", len(reverted))
	return reverted, nil
}

// Status reports applied and pending units.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	applied, appliedSet, err := e.loadVerified(ctx)
	if err != nil {
		return nil, err
	}

	pending := e.pending(appliedSet)
	status := &Status{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	return status, nil
}

// runStep executes fn and the ledger update in one transaction on a pinned
// connection. Either both commit or neither does.
func (e *Engine) runStep(ctx context.Context, unit Unit, dir Direction, fn StepFunc, ledger func(context.Context, Tx) error) (err error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return newStepError(unit.ID, dir, "acquire connection", err)
	}
	defer conn.Close()

	if unit.DisableForeignKeys {
		wasEnabled, fkErr := foreignKeysEnabled(ctx, conn)
		if fkErr != nil {
			return newStepError(unit.ID, dir, "read foreign_keys", fkErr)
		}
		if fkErr := setForeignKeys(ctx, conn, false); fkErr != nil {
			return newStepError(unit.ID, dir, "disable foreign_keys", fkErr)
		}
		defer func() {
			if restoreErr := setForeignKeys(ctx, conn, wasEnabled); restoreErr != nil {
				e.log(ctx, "restore_foreign_keys", "version", unit.ID).
					Warn("failed to restore foreign_keys, discarding connection", "error", restoreErr)
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return newStepError(unit.ID, dir, "begin transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.log(ctx, "rollback", "version", unit.ID).
				Warn("failed to roll back step transaction", "error", rbErr)
		}
	}()

	operation := "apply"
	if dir == Down {
		operation = "revert"
	}
	if err := fn(ctx, tx); err != nil {
		return newStepError(unit.ID, dir, operation, err)
	}

	if unit.DisableForeignKeys {
		if err := checkForeignKeys(ctx, tx); err != nil {
			return newStepError(unit.ID, dir, "foreign key check", err)
		}
	}

	if err := ledger(ctx, tx); err != nil {
		return newStepError(unit.ID, dir, "update ledger", err)
	}

	if err := tx.Commit(); err != nil {
		return newStepError(unit.ID, dir, "commit transaction", err)
	}
	committed = true
	return nil
}
