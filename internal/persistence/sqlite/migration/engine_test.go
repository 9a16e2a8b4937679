package migration_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
	"github.com/example/wallet-store/internal/testfixtures"
)

func createTable(name string) migration.StepFunc {
	return func(ctx context.Context, tx migration.Tx) error {
		_, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" (id INTEGER PRIMARY KEY, label TEXT)")
		return err
	}
}

func dropTable(name string) migration.StepFunc {
	return func(ctx context.Context, tx migration.Tx) error {
		_, err := tx.ExecContext(ctx, "DROP TABLE "+name)
		return err
	}
}

func tableUnit(id, table string) migration.Unit {
	return migration.Unit{
		ID:          id,
		Description: "create " + table,
		Apply:       createTable(table),
		Revert:      dropTable(table),
	}
}

func abcUnits() []migration.Unit {
	return []migration.Unit{
		tableUnit("001_a", "t_a"),
		tableUnit("002_b", "t_b"),
		tableUnit("003_c", "t_c"),
	}
}

func newEngine(t *testing.T, db *sql.DB, units []migration.Unit, opts ...migration.Option) *migration.Engine {
	t.Helper()
	base := []migration.Option{migration.WithLogger(testfixtures.DiscardLogger())}
	engine, err := migration.NewEngine(db, units, append(base, opts...)...)
	require.NoError(t, err)
	return engine
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func ledgerVersions(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()

	versions := []string{}
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	return versions
}

func TestNewEngine_ValidatesRegistry(t *testing.T) {
	db := testfixtures.OpenDB(t)
	noop := func(context.Context, migration.Tx) error { return nil }

	tests := []struct {
		name    string
		units   []migration.Unit
		wantErr error
	}{
		{
			name:    "duplicate identifier",
			units:   []migration.Unit{{ID: "001_a", Apply: noop}, {ID: "001_a", Apply: noop}},
			wantErr: migration.ErrDuplicateVersion,
		},
		{
			name:    "empty identifier",
			units:   []migration.Unit{{ID: "", Apply: noop}},
			wantErr: migration.ErrInvalidUnit,
		},
		{
			name:    "padded identifier",
			units:   []migration.Unit{{ID: " 001_a", Apply: noop}},
			wantErr: migration.ErrInvalidUnit,
		},
		{
			name:    "missing apply",
			units:   []migration.Unit{{ID: "001_a"}},
			wantErr: migration.ErrInvalidUnit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := migration.NewEngine(db, tt.units)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "invalid_registry", migration.ErrorKind(err))
		})
	}

	_, err := migration.NewEngine(nil, abcUnits())
	assert.Error(t, err)
}

func TestMigrateUp_AppliesPendingInOrder(t *testing.T) {
	db := testfixtures.OpenDB(t)

	var order []string
	track := func(id string, fn migration.StepFunc) migration.StepFunc {
		return func(ctx context.Context, tx migration.Tx) error {
			order = append(order, id)
			return fn(ctx, tx)
		}
	}
	units := abcUnits()
	for i := range units {
		units[i].Apply = track(units[i].ID, units[i].Apply)
	}
	// Registration order does not matter.
	units[0], units[2] = units[2], units[0]

	engine := newEngine(t, db, units)
	applied, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"001_a", "002_b", "003_c"}, applied)
	assert.Equal(t, applied, order)
	assert.Equal(t, applied, ledgerVersions(t, db))
	for _, table := range []string{"t_a", "t_b", "t_c"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestMigrateUp_IsIdempotent(t *testing.T) {
	db := testfixtures.OpenDB(t)
	engine := newEngine(t, db, abcUnits())

	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	applied, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, applied)
	assert.Empty(t, applied)
	assert.Len(t, ledgerVersions(t, db), 3)
}

func TestMigrateUp_AppliesOnlyNewUnits(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()

	_, err := newEngine(t, db, units[:1]).MigrateUp(context.Background())
	require.NoError(t, err)

	applied, err := newEngine(t, db, units).MigrateUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b", "003_c"}, applied)
}

func TestMigrateUp_EmptyRegistry(t *testing.T) {
	db := testfixtures.OpenDB(t)
	engine := newEngine(t, db, nil)

	applied, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.True(t, tableExists(t, db, "schema_migrations"))
}

func TestMigrateUp_StopsAtFailingStep(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	boom := errors.New("boom")
	units[1].Apply = func(ctx context.Context, tx migration.Tx) error {
		if err := createTable("t_b")(ctx, tx); err != nil {
			return err
		}
		return boom
	}

	applied, err := newEngine(t, db, units).MigrateUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrMigrationStepFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "step_failed", migration.ErrorKind(err))

	var stepErr *migration.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "002_b", stepErr.Version)
	assert.Equal(t, migration.Up, stepErr.Direction)

	assert.Equal(t, []string{"001_a"}, applied)
	assert.Equal(t, []string{"001_a"}, ledgerVersions(t, db))
	assert.True(t, tableExists(t, db, "t_a"))
	assert.False(t, tableExists(t, db, "t_b"), "failed step must leave no trace")
	assert.False(t, tableExists(t, db, "t_c"))

	// A fixed build resumes where the failed run stopped.
	applied, err = newEngine(t, db, abcUnits()).MigrateUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b", "003_c"}, applied)
}

func TestMigrateUp_LedgerFailureRollsBackStep(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	// The step itself claims the ledger row, so recording it afterwards fails.
	units[0].Apply = func(ctx context.Context, tx migration.Tx) error {
		if err := createTable("t_a")(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES ('001_a', '2021-01-01T00:00:00Z')`)
		return err
	}

	applied, err := newEngine(t, db, units).MigrateUp(context.Background())
	require.Error(t, err)

	var stepErr *migration.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "update ledger", stepErr.Operation)
	assert.Empty(t, applied)
	assert.Empty(t, ledgerVersions(t, db))
	assert.False(t, tableExists(t, db, "t_a"))
}

func TestMigrateUp_UnknownAppliedIdentifier(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()

	_, err := newEngine(t, db, units[:1]).MigrateUp(context.Background())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES ('999_future', '2030-01-01T00:00:00Z')`)
	require.NoError(t, err)

	engine := newEngine(t, db, units)
	applied, err := engine.MigrateUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrUnknownAppliedIdentifier)
	assert.Equal(t, "unknown_applied_identifier", migration.ErrorKind(err))
	assert.Empty(t, applied)
	assert.False(t, tableExists(t, db, "t_b"), "nothing may be applied")

	var unknownErr *migration.UnknownIdentifierError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, []string{"999_future"}, unknownErr.Versions)

	_, err = engine.MigrateDown(context.Background(), "")
	assert.ErrorIs(t, err, migration.ErrUnknownAppliedIdentifier)
	_, err = engine.Status(context.Background())
	assert.ErrorIs(t, err, migration.ErrUnknownAppliedIdentifier)
	assert.ErrorIs(t, engine.Verify(context.Background()), migration.ErrUnknownAppliedIdentifier)
}

func TestMigrateUp_IgnoresCallerCancellation(t *testing.T) {
	db := testfixtures.OpenDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applied, err := newEngine(t, db, abcUnits()).MigrateUp(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 3)
}

func TestMigrateUp_RecordsLedgerMetadata(t *testing.T) {
	db := testfixtures.OpenDB(t)
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	runIDs := testfixtures.NewRunIDs("")
	units := abcUnits()

	engine := newEngine(t, db, units[:2], migration.WithClock(clock.NowFunc()), migration.WithRunID(runIDs.NextFunc()))
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	engine = newEngine(t, db, units, migration.WithClock(clock.NowFunc()), migration.WithRunID(runIDs.NextFunc()))
	_, err = engine.MigrateUp(context.Background())
	require.NoError(t, err)

	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.AppliedMigrations, 3)

	first, last := status.AppliedMigrations[0], status.AppliedMigrations[2]
	assert.Equal(t, "run-1", first.RunID)
	assert.True(t, first.AppliedAt.Equal(testfixtures.ReferenceTime()))
	assert.Equal(t, "run-2", last.RunID)
	assert.True(t, last.AppliedAt.Equal(testfixtures.ReferenceTime().Add(24*time.Hour)))
	assert.Equal(t, []string{"run-1", "run-2"}, runIDs.Issued())
}

func TestMigrateUp_RecordsExecutionTime(t *testing.T) {
	db := testfixtures.OpenDB(t)
	clock := testfixtures.NewTickingClock(testfixtures.ReferenceTime(), 3*time.Millisecond)
	units := abcUnits()[:1]

	engine := newEngine(t, db, units, migration.WithClock(clock.NowFunc()))
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.AppliedMigrations, 1)
	assert.Positive(t, status.AppliedMigrations[0].ExecutionTime)
}

func TestMigrateDown_RevertsInReverseOrder(t *testing.T) {
	db := testfixtures.OpenDB(t)

	var order []string
	units := abcUnits()
	for i := range units {
		id, revert := units[i].ID, units[i].Revert
		units[i].Revert = func(ctx context.Context, tx migration.Tx) error {
			order = append(order, id)
			return revert(ctx, tx)
		}
	}
	engine := newEngine(t, db, units)
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	reverted, err := engine.MigrateDown(context.Background(), "001_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"003_c", "002_b"}, reverted)
	assert.Equal(t, reverted, order)
	assert.Equal(t, []string{"001_a"}, ledgerVersions(t, db))
	assert.True(t, tableExists(t, db, "t_a"))
	assert.False(t, tableExists(t, db, "t_b"))
	assert.False(t, tableExists(t, db, "t_c"))

	reverted, err = engine.MigrateDown(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, reverted)
	assert.Empty(t, ledgerVersions(t, db))
	assert.False(t, tableExists(t, db, "t_a"))
}

func TestMigrateDown_TargetAtOrAboveCurrent(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	engine := newEngine(t, db, units)

	_, err := newEngine(t, db, units[:1]).MigrateUp(context.Background())
	require.NoError(t, err)

	for _, target := range []string{"001_a", "003_c"} {
		reverted, err := engine.MigrateDown(context.Background(), target)
		require.NoError(t, err)
		assert.Empty(t, reverted, target)
	}
	assert.Equal(t, []string{"001_a"}, ledgerVersions(t, db))
}

func TestMigrateDown_UnknownTarget(t *testing.T) {
	db := testfixtures.OpenDB(t)
	engine := newEngine(t, db, abcUnits())
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	reverted, err := engine.MigrateDown(context.Background(), "002_bb")
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrUnknownTarget)
	assert.Equal(t, "unknown_target", migration.ErrorKind(err))
	assert.Empty(t, reverted)
	assert.Len(t, ledgerVersions(t, db), 3)
}

func TestMigrateDown_IrreversibleUnitBlocksRollback(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	units[1].Revert = nil

	engine := newEngine(t, db, units)
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	reverted, err := engine.MigrateDown(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrIrreversibleRollback)
	assert.Equal(t, "irreversible_rollback", migration.ErrorKind(err))

	var irrErr *migration.IrreversibleError
	require.ErrorAs(t, err, &irrErr)
	assert.Equal(t, "002_b", irrErr.Version)

	assert.Empty(t, reverted)
	assert.Len(t, ledgerVersions(t, db), 3, "nothing may be reverted")
	assert.True(t, tableExists(t, db, "t_c"))

	// Stopping at the irreversible unit is allowed.
	reverted, err = engine.MigrateDown(context.Background(), "002_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"003_c"}, reverted)
}

func TestMigrateDown_StopsAtFailingRevert(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	units[1].Revert = func(context.Context, migration.Tx) error {
		return errors.New("cannot drop")
	}

	engine := newEngine(t, db, units)
	_, err := engine.MigrateUp(context.Background())
	require.NoError(t, err)

	reverted, err := engine.MigrateDown(context.Background(), "")
	require.Error(t, err)

	var stepErr *migration.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "002_b", stepErr.Version)
	assert.Equal(t, migration.Down, stepErr.Direction)
	assert.Equal(t, []string{"003_c"}, reverted)
	assert.Equal(t, []string{"001_a", "002_b"}, ledgerVersions(t, db))
}

func TestRunStep_ForeignKeysDisabledForRebuild(t *testing.T) {
	db := testfixtures.OpenDB(t)
	db.SetMaxOpenConns(1)

	setup := migration.Unit{
		ID: "001_parent_child",
		Apply: func(ctx context.Context, tx migration.Tx) error {
			for _, stmt := range []string{
				`CREATE TABLE parent (id INTEGER PRIMARY KEY, name TEXT)`,
				`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER NOT NULL REFERENCES parent(id))`,
				`INSERT INTO parent (id, name) VALUES (1, 'p')`,
				`INSERT INTO child (id, parent_id) VALUES (1, 1)`,
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	rebuild := func(ctx context.Context, tx migration.Tx) error {
		for _, stmt := range []string{
			`CREATE TABLE parent_temp (id INTEGER PRIMARY KEY, name TEXT NOT NULL DEFAULT '')`,
			`INSERT INTO parent_temp (id, name) SELECT id, COALESCE(name, '') FROM parent`,
			`DROP TABLE parent`,
			`ALTER TABLE parent_temp RENAME TO parent`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}

	units := []migration.Unit{
		setup,
		{ID: "002_rebuild_parent", Apply: rebuild, DisableForeignKeys: true},
	}
	applied, err := newEngine(t, db, units).MigrateUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_parent_child", "002_rebuild_parent"}, applied)

	var enabled int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled, "enforcement must be restored")
}

func TestRunStep_ForeignKeyViolationFailsStep(t *testing.T) {
	db := testfixtures.OpenDB(t)
	db.SetMaxOpenConns(1)

	units := []migration.Unit{
		{
			ID: "001_tables",
			Apply: func(ctx context.Context, tx migration.Tx) error {
				if _, err := tx.ExecContext(ctx, `CREATE TABLE parent (id INTEGER PRIMARY KEY)`); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent(id))`)
				return err
			},
		},
		{
			ID:                 "002_orphan",
			DisableForeignKeys: true,
			Apply: func(ctx context.Context, tx migration.Tx) error {
				_, err := tx.ExecContext(ctx, `INSERT INTO child (id, parent_id) VALUES (1, 42)`)
				return err
			},
		},
	}

	applied, err := newEngine(t, db, units).MigrateUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrForeignKeyViolation)
	assert.Equal(t, []string{"001_tables"}, applied)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM child`).Scan(&count))
	assert.Zero(t, count, "violating rows must be rolled back")

	var enabled int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestStatus(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()

	engine := newEngine(t, db, units)
	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.CurrentVersion)
	assert.Equal(t, 3, status.PendingCount)

	_, err = newEngine(t, db, units[:2]).MigrateUp(context.Background())
	require.NoError(t, err)

	status, err = engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "002_b", status.CurrentVersion)
	assert.Equal(t, 1, status.PendingCount)
	require.Len(t, status.PendingMigrations, 1)
	assert.Equal(t, "003_c", status.PendingMigrations[0].ID)

	pending, err := engine.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "003_c", pending[0].ID)
}

func TestUnits_ReturnsSortedCopy(t *testing.T) {
	db := testfixtures.OpenDB(t)
	units := abcUnits()
	units[0], units[2] = units[2], units[0]

	engine := newEngine(t, db, units)
	got := engine.Units()
	require.Len(t, got, 3)
	assert.Equal(t, "001_a", got[0].ID)

	got[0].ID = "mutated"
	assert.Equal(t, "001_a", engine.Units()[0].ID)
}
