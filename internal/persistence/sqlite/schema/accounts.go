package schema

import (
	"context"
	"strconv"

	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
)

// addressLength is the length of a real base58 account address. Shorter
// values are placeholders written for accounts without an address.
const addressLength = 50

const accountColumnList = `identity_id, name, status, address, signature_threshold,
	incoming_amounts, self_amounts, total_decrypted, all_decrypted,
	max_transaction_id, deployment_transaction_id, is_initial, reward_filter`

// Shape of the account table before 20210618092200_account_primary_key.
const accountColumnsV1 = `
	identity_id INTEGER NOT NULL REFERENCES identity(id),
	name TEXT,
	status TEXT,
	address TEXT,
	signature_threshold INTEGER,
	incoming_amounts TEXT DEFAULT '[]',
	self_amounts TEXT DEFAULT '',
	total_decrypted TEXT DEFAULT '',
	all_decrypted BOOLEAN DEFAULT 1,
	max_transaction_id INTEGER DEFAULT 0,
	deployment_transaction_id TEXT,
	is_initial BOOLEAN DEFAULT 0,
	reward_filter TEXT DEFAULT '[]'`

// Shape after 20210618092200_account_primary_key.
const accountColumnsV2 = `
	identity_id INTEGER NOT NULL REFERENCES identity(id),
	name TEXT,
	status TEXT,
	address TEXT PRIMARY KEY,
	signature_threshold INTEGER,
	incoming_amounts TEXT DEFAULT '[]',
	self_amounts TEXT DEFAULT '',
	total_decrypted TEXT DEFAULT '',
	all_decrypted BOOLEAN DEFAULT 1,
	max_transaction_id INTEGER DEFAULT 0,
	deployment_transaction_id TEXT,
	is_initial BOOLEAN DEFAULT 0,
	reward_filter TEXT DEFAULT '[]'`

// Shape after 20210618092200_account_table_update.
const accountColumnsV3 = `
	identity_id INTEGER NOT NULL REFERENCES identity(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	address TEXT PRIMARY KEY,
	signature_threshold INTEGER NOT NULL DEFAULT 1,
	incoming_amounts TEXT NOT NULL DEFAULT '[]',
	self_amounts TEXT NOT NULL DEFAULT '',
	total_decrypted TEXT NOT NULL DEFAULT '0',
	all_decrypted BOOLEAN NOT NULL DEFAULT 1,
	max_transaction_id TEXT NOT NULL DEFAULT '0',
	deployment_transaction_id TEXT,
	is_initial BOOLEAN NOT NULL DEFAULT 0,
	reward_filter TEXT NOT NULL DEFAULT '[]'`

// rebuildAccountTable copies every account row into a table with the given
// column definitions, selecting values with selectList, and swaps it in.
// The step must run with foreign key enforcement off.
func rebuildAccountTable(ctx context.Context, tx migration.Tx, columns, selectList string) error {
	return execAll(ctx, tx,
		`CREATE TABLE account_temp (`+columns+`)`,
		`INSERT INTO account_temp (`+accountColumnList+`) SELECT `+selectList+` FROM account ORDER BY rowid`,
		`DROP TABLE account`,
		`ALTER TABLE account_temp RENAME TO account`,
	)
}

// Accounts without an address get their row position as a unique placeholder.
func applyAccountPrimaryKey(ctx context.Context, tx migration.Tx) error {
	return rebuildAccountTable(ctx, tx, accountColumnsV2, `identity_id, name, status,
		CASE WHEN address IS NULL OR address = ''
			THEN CAST(ROW_NUMBER() OVER (ORDER BY rowid) - 1 AS TEXT)
			ELSE address END,
		signature_threshold, incoming_amounts, self_amounts, total_decrypted, all_decrypted,
		max_transaction_id, deployment_transaction_id, is_initial, reward_filter`)
}

func revertAccountPrimaryKey(ctx context.Context, tx migration.Tx) error {
	return rebuildAccountTable(ctx, tx, accountColumnsV1, `identity_id, name, status,
		CASE WHEN length(address) <> `+strconv.Itoa(addressLength)+` THEN '' ELSE address END,
		signature_threshold, incoming_amounts, self_amounts, total_decrypted, all_decrypted,
		max_transaction_id, deployment_transaction_id, is_initial, reward_filter`)
}

// The transaction cursor restarts from zero once it is stored as text.
func applyAccountTableUpdate(ctx context.Context, tx migration.Tx) error {
	return rebuildAccountTable(ctx, tx, accountColumnsV3, `identity_id,
		COALESCE(name, ''), COALESCE(status, ''), address,
		COALESCE(signature_threshold, 1), COALESCE(incoming_amounts, '[]'),
		COALESCE(self_amounts, ''), COALESCE(total_decrypted, '0'), COALESCE(all_decrypted, 1),
		'0', deployment_transaction_id, COALESCE(is_initial, 0), COALESCE(reward_filter, '[]')`)
}

func revertAccountTableUpdate(ctx context.Context, tx migration.Tx) error {
	return rebuildAccountTable(ctx, tx, accountColumnsV2, `identity_id, name, status, address,
		signature_threshold, incoming_amounts, self_amounts, total_decrypted, all_decrypted,
		0, deployment_transaction_id, is_initial, reward_filter`)
}
