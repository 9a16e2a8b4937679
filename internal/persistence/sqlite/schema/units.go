// Package schema holds the wallet database's compiled-in migration units.
//
// Released units are frozen. Any later change to the schema is a new unit
// appended with a newer identifier.
package schema

import (
	"context"
	"fmt"

	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
)

// Unit identifiers in application order.
const (
	InitialSchema      = "20201021000000_initial_schema"
	AccountPrimaryKey  = "20210618092200_account_primary_key"
	AccountTableUpdate = "20210618092200_account_table_update"
	ResetTransactions  = "20210628154100_reset_transactions"
)

// Units returns a fresh copy of the registry.
func Units() []migration.Unit {
	return []migration.Unit{
		{
			ID:          InitialSchema,
			Description: "create wallet, identity, account, credential, transaction, address book and settings tables",
			Apply:       applyInitialSchema,
			Revert:      revertInitialSchema,
		},
		{
			ID:                 AccountPrimaryKey,
			Description:        "make account address the primary key",
			Apply:              applyAccountPrimaryKey,
			Revert:             revertAccountPrimaryKey,
			DisableForeignKeys: true,
		},
		{
			ID:                 AccountTableUpdate,
			Description:        "tighten account columns and store max_transaction_id as text",
			Apply:              applyAccountTableUpdate,
			Revert:             revertAccountTableUpdate,
			DisableForeignKeys: true,
		},
		{
			// Transactions are re-fetched from the network; the deleted rows
			// cannot be restored, so this unit has no revert.
			ID:          ResetTransactions,
			Description: "drop cached transfer transactions",
			Apply:       applyResetTransactions,
		},
	}
}

func execAll(ctx context.Context, tx migration.Tx, stmts ...string) error {
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w", i+1, err)
		}
	}
	return nil
}
