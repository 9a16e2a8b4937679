// Package migration evolves the schema of the wallet's SQLite store.
//
// Schema changes are compiled-in units with a build-time identifier, a
// forward step and an optional inverse step. The engine supports:
//
//   - Sequential execution of pending units in ascending identifier order
//   - One transaction per unit covering both the change and its ledger row
//   - Rollback to a target identifier in descending order
//   - Forward-only units that refuse to be rolled back
//   - Detection of ledger rows written by a newer build
//
// The schema_migrations table records applied identifiers. A row exists if
// and only if the unit is applied.
//
// Example usage:
//
//	engine, err := migration.NewEngine(db, schema.Units(), migration.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if _, err := engine.MigrateUp(ctx); err != nil {
//		return fmt.Errorf("refusing to open store: %w", err)
//	}
package migration
