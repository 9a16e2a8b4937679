package schema

import (
	"context"

	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
)

func applyResetTransactions(ctx context.Context, tx migration.Tx) error {
	return execAll(ctx, tx, `DELETE FROM transfer_transaction`)
}
