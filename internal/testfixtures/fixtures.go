package testfixtures

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
)

var (
	walletCounter      uint64
	identityCounter    uint64
	accountCounter     uint64
	transactionCounter uint64
)

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ----------------------------- Wallet fixtures -----------------------------

// WalletFixture is a wallet row.
type WalletFixture struct {
	ID         int64
	Identifier string
	Type       string
}

// NewWalletFixture returns a deterministic wallet row.
func NewWalletFixture() WalletFixture {
	idx := atomic.AddUint64(&walletCounter, 1)
	return WalletFixture{
		ID:         int64(idx),
		Identifier: fmt.Sprintf("ledger-%03d", idx),
		Type:       "ledger",
	}
}

// Insert writes the row.
func (f WalletFixture) Insert(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO wallet (id, identifier, type) VALUES (?, ?, ?)`,
		f.ID, f.Identifier, f.Type)
	return err
}

// ---------------------------- Identity fixtures ----------------------------

// IdentityFixture is an identity row.
type IdentityFixture struct {
	ID             int64
	IdentityNumber int64
	Name           string
	Status         string
	WalletID       int64
}

// NewIdentityFixture returns a deterministic identity belonging to walletID.
func NewIdentityFixture(walletID int64) IdentityFixture {
	idx := atomic.AddUint64(&identityCounter, 1)
	return IdentityFixture{
		ID:             int64(idx),
		IdentityNumber: int64(idx - 1),
		Name:           fmt.Sprintf("Identity %03d", idx),
		Status:         "confirmed",
		WalletID:       walletID,
	}
}

// Insert writes the row.
func (f IdentityFixture) Insert(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO identity (id, identity_number, name, status, wallet_id) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.IdentityNumber, f.Name, f.Status, f.WalletID)
	return err
}

// ----------------------------- Account fixtures -----------------------------

// AccountFixture is an account row restricted to columns present in every
// version of the account table.
type AccountFixture struct {
	IdentityID       int64
	Name             sql.NullString
	Status           sql.NullString
	Address          sql.NullString
	MaxTransactionID sql.NullInt64
}

// AccountOption configures the generated account fixture.
type AccountOption func(*AccountFixture)

// NewAccountFixture returns an account with a unique, well-formed address.
func NewAccountFixture(identityID int64, opts ...AccountOption) AccountFixture {
	idx := atomic.AddUint64(&accountCounter, 1)
	fixture := AccountFixture{
		IdentityID:       identityID,
		Name:             sql.NullString{String: fmt.Sprintf("Account %03d", idx), Valid: true},
		Status:           sql.NullString{String: "confirmed", Valid: true},
		Address:          sql.NullString{String: Address(idx), Valid: true},
		MaxTransactionID: sql.NullInt64{Int64: int64(idx * 10), Valid: true},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAccountAddress sets the address. An empty string is stored as is.
func WithAccountAddress(address string) AccountOption {
	return func(f *AccountFixture) {
		f.Address = sql.NullString{String: address, Valid: true}
	}
}

// WithoutAccountAddress stores NULL as the address.
func WithoutAccountAddress() AccountOption {
	return func(f *AccountFixture) {
		f.Address = sql.NullString{}
	}
}

// WithAccountName sets the account name.
func WithAccountName(name string) AccountOption {
	return func(f *AccountFixture) {
		f.Name = sql.NullString{String: name, Valid: true}
	}
}

// WithoutAccountName stores NULL as the name.
func WithoutAccountName() AccountOption {
	return func(f *AccountFixture) {
		f.Name = sql.NullString{}
	}
}

// Insert writes the row.
func (f AccountFixture) Insert(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO account (identity_id, name, status, address, max_transaction_id) VALUES (?, ?, ?, ?, ?)`,
		f.IdentityID, f.Name, f.Status, f.Address, f.MaxTransactionID)
	return err
}

// Address returns a deterministic 50 character account address.
func Address(n uint64) string {
	prefix := fmt.Sprintf("3%d", n)
	return prefix + strings.Repeat("x", 50-len(prefix))
}

// --------------------------- Transaction fixtures ---------------------------

// TransactionFixture is a transfer_transaction row.
type TransactionFixture struct {
	Hash        string
	Kind        string
	FromAddress string
	ToAddress   string
	Subtotal    string
}

// NewTransactionFixture returns a transfer between two addresses.
func NewTransactionFixture(from, to string) TransactionFixture {
	idx := atomic.AddUint64(&transactionCounter, 1)
	return TransactionFixture{
		Hash:        fmt.Sprintf("%064d", idx),
		Kind:        "simpleTransfer",
		FromAddress: from,
		ToAddress:   to,
		Subtotal:    fmt.Sprintf("%d", idx*1000),
	}
}

// Insert writes the row.
func (f TransactionFixture) Insert(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transfer_transaction (transaction_hash, transaction_kind, from_address, to_address, subtotal)
		 VALUES (?, ?, ?, ?, ?)`,
		f.Hash, f.Kind, f.FromAddress, f.ToAddress, f.Subtotal)
	return err
}

// SeedWallet inserts a wallet, one identity and the given accounts, which are
// built against that identity. It returns the identity.
func SeedWallet(ctx context.Context, db Execer, accounts ...[]AccountOption) (IdentityFixture, error) {
	wallet := NewWalletFixture()
	if err := wallet.Insert(ctx, db); err != nil {
		return IdentityFixture{}, fmt.Errorf("insert wallet: %w", err)
	}
	identity := NewIdentityFixture(wallet.ID)
	if err := identity.Insert(ctx, db); err != nil {
		return IdentityFixture{}, fmt.Errorf("insert identity: %w", err)
	}
	for i, opts := range accounts {
		if err := NewAccountFixture(identity.ID, opts...).Insert(ctx, db); err != nil {
			return IdentityFixture{}, fmt.Errorf("insert account %d: %w", i+1, err)
		}
	}
	return identity, nil
}
