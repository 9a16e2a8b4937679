package schema

import (
	"context"

	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
)

func applyInitialSchema(ctx context.Context, tx migration.Tx) error {
	return execAll(ctx, tx,
		`CREATE TABLE wallet (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL
		)`,
		`CREATE TABLE identity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			code_uri TEXT,
			identity_provider TEXT,
			random_number TEXT,
			wallet_id INTEGER NOT NULL REFERENCES wallet(id)
		)`,
		`CREATE TABLE account (`+accountColumnsV1+`)`,
		`CREATE TABLE credential (
			cred_id TEXT PRIMARY KEY,
			account_address TEXT,
			credential_index INTEGER,
			credential_number INTEGER NOT NULL,
			identity_id INTEGER NOT NULL REFERENCES identity(id),
			policy TEXT,
			randomness TEXT
		)`,
		`CREATE TABLE transfer_transaction (
			transaction_hash TEXT PRIMARY KEY,
			id TEXT,
			transaction_kind TEXT NOT NULL,
			block_hash TEXT,
			block_time TEXT,
			subtotal TEXT,
			cost TEXT,
			encrypted TEXT,
			schedule TEXT,
			from_address TEXT,
			to_address TEXT,
			status TEXT,
			reject_reason TEXT,
			decrypted_amount TEXT,
			memo TEXT,
			events TEXT
		)`,
		`CREATE INDEX idx_transfer_transaction_from ON transfer_transaction(from_address)`,
		`CREATE INDEX idx_transfer_transaction_to ON transfer_transaction(to_address)`,
		`CREATE TABLE address_book (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			note TEXT,
			read_only BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE setting_group (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE setting (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			value TEXT,
			setting_group INTEGER NOT NULL REFERENCES setting_group(id)
		)`,
		`INSERT INTO setting_group (id, name) VALUES (1, 'multisig'), (2, 'node')`,
		`INSERT INTO setting (name, type, value, setting_group) VALUES
			('foundationTransactionsEnabled', 'boolean', '0', 1),
			('nodeLocation', 'connection', '{"address":"127.0.0.1","port":"10000"}', 2)`,
	)
}

func revertInitialSchema(ctx context.Context, tx migration.Tx) error {
	// Children before parents so the implicit deletes satisfy foreign keys.
	return execAll(ctx, tx,
		`DROP TABLE setting`,
		`DROP TABLE setting_group`,
		`DROP TABLE address_book`,
		`DROP TABLE transfer_transaction`,
		`DROP TABLE credential`,
		`DROP TABLE account`,
		`DROP TABLE identity`,
		`DROP TABLE wallet`,
	)
}
