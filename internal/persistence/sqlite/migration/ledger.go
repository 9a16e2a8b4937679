package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

const (
	createLedgerSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time_ms INTEGER,
			run_id TEXT
		)`

	selectLedgerSQL = `
		SELECT version, applied_at, COALESCE(execution_time_ms, 0), COALESCE(run_id, '')
		FROM schema_migrations
		ORDER BY version ASC`

	insertLedgerSQL = `
		INSERT INTO schema_migrations (version, applied_at, execution_time_ms, run_id)
		VALUES (?, ?, ?, ?)`

	deleteLedgerSQL = `DELETE FROM schema_migrations WHERE version = ?`
)

// ensureLedger creates the schema_migrations table if it doesn't exist
func ensureLedger(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, createLedgerSQL); err != nil {
		return newDatabaseError(createLedgerSQL, "create schema_migrations table", err)
	}
	return nil
}

func parseAppliedAt(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateTime, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
	}
	return t, nil
}

// loadLedger returns every ledger row in ascending version order
func loadLedger(ctx context.Context, db DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, selectLedgerSQL)
	if err != nil {
		return nil, newDatabaseError(selectLedgerSQL, "load applied versions", err)
	}
	defer rows.Close()

	applied := make([]AppliedMigration, 0)
	for rows.Next() {
		var (
			version, appliedAtStr, runID string
			executionTimeMs              int64
		)
		if err := rows.Scan(&version, &appliedAtStr, &executionTimeMs, &runID); err != nil {
			return nil, newDatabaseError(selectLedgerSQL, "scan applied version", err)
		}

		// Rows written by CURRENT_TIMESTAMP use SQLite's own layout.
		appliedAt, err := parseAppliedAt(appliedAtStr)
		if err != nil {
			return nil, newDatabaseError(selectLedgerSQL, "parse applied_at of "+version, err)
		}

		applied = append(applied, AppliedMigration{
			Version:       version,
			AppliedAt:     appliedAt.UTC(),
			ExecutionTime: time.Duration(executionTimeMs) * time.Millisecond,
			RunID:         runID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, newDatabaseError(selectLedgerSQL, "iterate applied versions", err)
	}

	return applied, nil
}

// recordVersion inserts the ledger row for a unit inside the step transaction
func recordVersion(ctx context.Context, tx Tx, row AppliedMigration) error {
	_, err := tx.ExecContext(ctx, insertLedgerSQL,
		row.Version,
		row.AppliedAt.UTC().Format(time.RFC3339),
		row.ExecutionTime.Milliseconds(),
		row.RunID,
	)
	if err != nil {
		return newDatabaseError(insertLedgerSQL, "record version", err)
	}
	return nil
}

// removeVersion deletes the ledger row for a unit inside the step transaction.
// Exactly one row must be removed.
func removeVersion(ctx context.Context, tx Tx, version string) error {
	res, err := tx.ExecContext(ctx, deleteLedgerSQL, version)
	if err != nil {
		return newDatabaseError(deleteLedgerSQL, "remove version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newDatabaseError(deleteLedgerSQL, "remove version", err)
	}
	if n != 1 {
		return newDatabaseError(deleteLedgerSQL, "remove version",
			fmt.Errorf("expected to remove 1 ledger row for %s, removed %d", version, n))
	}
	return nil
}

// foreignKeysEnabled reads the per-connection foreign key setting
func foreignKeysEnabled(ctx context.Context, conn *sql.Conn) (bool, error) {
	var enabled int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return false, err
	}
	return enabled == 1, nil
}

func setForeignKeys(ctx context.Context, conn *sql.Conn, on bool) error {
	stmt := "PRAGMA foreign_keys = OFF"
	if on {
		stmt = "PRAGMA foreign_keys = ON"
	}
	_, err := conn.ExecContext(ctx, stmt)
	return err
}

// checkForeignKeys fails when PRAGMA foreign_key_check reports any violation
func checkForeignKeys(ctx context.Context, tx Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	violations := 0
	tables := make(map[string]struct{})
	for rows.Next() {
		var (
			table, parent string
			rowID         sql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowID, &parent, &fkid); err != nil {
			return err
		}
		violations++
		tables[table] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if violations > 0 {
		names := make([]string, 0, len(tables))
		for name := range tables {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: %d rows in %v", ErrForeignKeyViolation, violations, names)
	}
	return nil
}
