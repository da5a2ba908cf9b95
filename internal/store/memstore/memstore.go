// Package memstore is the simplified storage variant used by the local
// demo mode. It does not implement the ledger: every operation fails
// with ErrUnsupportedOperation so that demo deployments cannot silently
// move coins.
package memstore

import (
	"context"

	"github.com/quantbazaar/coinledger/pkg/coinledger"
)

const (
	errorOperationStore = "memstore"
	errorSubjectLedger  = "ledger"
	errorCodeDemo       = "demo_mode"
)

// Store satisfies coinledger.Store but supports no ledger operations.
type Store struct{}

// New returns the ledger-free demo store.
func New() *Store {
	return &Store{}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coinledger.Store) error) error {
	return unsupported()
}

func (store *Store) GetOrCreateWallet(context.Context, coinledger.UserID) (coinledger.Wallet, error) {
	return coinledger.Wallet{}, unsupported()
}

func (store *Store) CreateWallet(context.Context, coinledger.UserID) (coinledger.Wallet, error) {
	return coinledger.Wallet{}, unsupported()
}

func (store *Store) WalletExists(context.Context, coinledger.UserID) (bool, error) {
	return false, unsupported()
}

func (store *Store) LockWallet(context.Context, coinledger.WalletID) (coinledger.Wallet, error) {
	return coinledger.Wallet{}, unsupported()
}

func (store *Store) UpdateWalletBalance(context.Context, coinledger.WalletID, int64, int64) error {
	return unsupported()
}

func (store *Store) ListWallets(context.Context) ([]coinledger.Wallet, error) {
	return nil, unsupported()
}

func (store *Store) CreateLedgerTransaction(context.Context, coinledger.LedgerTransaction) (coinledger.LedgerTransaction, error) {
	return coinledger.LedgerTransaction{}, unsupported()
}

func (store *Store) CloseLedgerTransaction(context.Context, coinledger.TransactionID, int64) error {
	return unsupported()
}

func (store *Store) FindTransactionByExternalRef(context.Context, coinledger.ExternalRef) (coinledger.LedgerTransaction, bool, error) {
	return coinledger.LedgerTransaction{}, false, unsupported()
}

func (store *Store) HasTransactionByInitiator(context.Context, coinledger.TransactionType, coinledger.UserID) (bool, error) {
	return false, unsupported()
}

func (store *Store) InsertJournalEntry(context.Context, coinledger.JournalEntry) error {
	return unsupported()
}

func (store *Store) ListJournalEntries(context.Context, coinledger.WalletID, int) ([]coinledger.JournalEntry, error) {
	return nil, unsupported()
}

func (store *Store) SumJournalAmounts(context.Context, coinledger.WalletID) (int64, error) {
	return 0, unsupported()
}

func (store *Store) ListLegacyBalances(context.Context) ([]coinledger.LegacyBalance, error) {
	return nil, unsupported()
}

func unsupported() error {
	return coinledger.WrapError(errorOperationStore, errorSubjectLedger, errorCodeDemo, coinledger.ErrUnsupportedOperation)
}
