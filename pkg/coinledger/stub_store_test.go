package coinledger

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store with transactional rollback semantics:
// WithTx snapshots state and restores it when fn fails, mirroring what the
// real stores get from the database.
type stubStore struct {
	wallets      map[string]Wallet
	transactions map[string]LedgerTransaction
	byRef        map[string]string
	entries      []JournalEntry
	legacy       []LegacyBalance
	lockOrder    []string

	nextWalletSeq      int
	nextTransactionSeq int

	getOrCreateError       error
	createWalletError      error
	lockWalletError        error
	updateBalanceError     error
	listWalletsError       error
	createTransactionError error
	closeTransactionError  error
	findByRefError         error
	hasTransactionError    error
	insertEntryError       error
	listEntriesError       error
	sumError               error
	legacyError            error

	insertEntryFailAfter int
	insertEntryCalls     int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		wallets:              make(map[string]Wallet),
		transactions:         make(map[string]LedgerTransaction),
		byRef:                make(map[string]string),
		insertEntryFailAfter: -1,
	}
}

func (store *stubStore) seedWallet(test *testing.T, userIDValue string, balance int64) Wallet {
	test.Helper()
	userID := mustUserID(test, userIDValue)
	wallet, err := store.GetOrCreateWallet(context.Background(), userID)
	if err != nil {
		test.Fatalf("seed wallet: %v", err)
	}
	wallet.Balance = balance
	wallet.AvailableBalance = balance
	store.wallets[userIDValue] = wallet
	return wallet
}

func (store *stubStore) snapshot() *stubStore {
	copyStore := &stubStore{
		wallets:            make(map[string]Wallet, len(store.wallets)),
		transactions:       make(map[string]LedgerTransaction, len(store.transactions)),
		byRef:              make(map[string]string, len(store.byRef)),
		entries:            append([]JournalEntry(nil), store.entries...),
		legacy:             append([]LegacyBalance(nil), store.legacy...),
		nextWalletSeq:      store.nextWalletSeq,
		nextTransactionSeq: store.nextTransactionSeq,
	}
	for key, value := range store.wallets {
		copyStore.wallets[key] = value
	}
	for key, value := range store.transactions {
		copyStore.transactions[key] = value
	}
	for key, value := range store.byRef {
		copyStore.byRef[key] = value
	}
	return copyStore
}

func (store *stubStore) restore(from *stubStore) {
	store.wallets = from.wallets
	store.transactions = from.transactions
	store.byRef = from.byRef
	store.entries = from.entries
	store.legacy = from.legacy
	store.nextWalletSeq = from.nextWalletSeq
	store.nextTransactionSeq = from.nextTransactionSeq
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	saved := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(saved)
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateWallet(_ context.Context, userID UserID) (Wallet, error) {
	if store.getOrCreateError != nil {
		return Wallet{}, store.getOrCreateError
	}
	if wallet, exists := store.wallets[userID.String()]; exists {
		return wallet, nil
	}
	store.nextWalletSeq++
	walletID, err := NewWalletID(fmt.Sprintf("wallet-%04d", store.nextWalletSeq))
	if err != nil {
		return Wallet{}, err
	}
	wallet := Wallet{
		WalletID: walletID,
		UserID:   userID,
		Status:   WalletStatusActive,
	}
	store.wallets[userID.String()] = wallet
	return wallet, nil
}

func (store *stubStore) CreateWallet(ctx context.Context, userID UserID) (Wallet, error) {
	if store.createWalletError != nil {
		return Wallet{}, store.createWalletError
	}
	if _, exists := store.wallets[userID.String()]; exists {
		return Wallet{}, ErrWalletExists
	}
	return store.GetOrCreateWallet(ctx, userID)
}

func (store *stubStore) WalletExists(_ context.Context, userID UserID) (bool, error) {
	if store.getOrCreateError != nil {
		return false, store.getOrCreateError
	}
	_, exists := store.wallets[userID.String()]
	return exists, nil
}

func (store *stubStore) LockWallet(_ context.Context, walletID WalletID) (Wallet, error) {
	if store.lockWalletError != nil {
		return Wallet{}, store.lockWalletError
	}
	store.lockOrder = append(store.lockOrder, walletID.String())
	for _, wallet := range store.wallets {
		if wallet.WalletID == walletID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) UpdateWalletBalance(_ context.Context, walletID WalletID, balance int64, availableBalance int64) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	for key, wallet := range store.wallets {
		if wallet.WalletID == walletID {
			wallet.Balance = balance
			wallet.AvailableBalance = availableBalance
			store.wallets[key] = wallet
			return nil
		}
	}
	return ErrWalletNotFound
}

func (store *stubStore) ListWallets(_ context.Context) ([]Wallet, error) {
	if store.listWalletsError != nil {
		return nil, store.listWalletsError
	}
	wallets := make([]Wallet, 0, len(store.wallets))
	for _, wallet := range store.wallets {
		wallets = append(wallets, wallet)
	}
	return wallets, nil
}

func (store *stubStore) CreateLedgerTransaction(_ context.Context, transaction LedgerTransaction) (LedgerTransaction, error) {
	if store.createTransactionError != nil {
		return LedgerTransaction{}, store.createTransactionError
	}
	if !transaction.ExternalRef.IsZero() {
		if _, exists := store.byRef[transaction.ExternalRef.String()]; exists {
			return LedgerTransaction{}, ErrDuplicateExternalRef
		}
	}
	store.nextTransactionSeq++
	transactionID, err := NewTransactionID(fmt.Sprintf("txn-%04d", store.nextTransactionSeq))
	if err != nil {
		return LedgerTransaction{}, err
	}
	transaction.TransactionID = transactionID
	store.transactions[transactionID.String()] = transaction
	if !transaction.ExternalRef.IsZero() {
		store.byRef[transaction.ExternalRef.String()] = transactionID.String()
	}
	return transaction, nil
}

func (store *stubStore) CloseLedgerTransaction(_ context.Context, transactionID TransactionID, closedUnixUTC int64) error {
	if store.closeTransactionError != nil {
		return store.closeTransactionError
	}
	transaction, exists := store.transactions[transactionID.String()]
	if !exists || transaction.Status != TransactionStatusPending {
		return ErrTransactionNotFound
	}
	transaction.Status = TransactionStatusClosed
	transaction.ClosedUnixUTC = closedUnixUTC
	store.transactions[transactionID.String()] = transaction
	return nil
}

func (store *stubStore) FindTransactionByExternalRef(_ context.Context, ref ExternalRef) (LedgerTransaction, bool, error) {
	if store.findByRefError != nil {
		return LedgerTransaction{}, false, store.findByRefError
	}
	transactionID, exists := store.byRef[ref.String()]
	if !exists {
		return LedgerTransaction{}, false, nil
	}
	return store.transactions[transactionID], true, nil
}

func (store *stubStore) HasTransactionByInitiator(_ context.Context, transactionType TransactionType, initiatorUserID UserID) (bool, error) {
	if store.hasTransactionError != nil {
		return false, store.hasTransactionError
	}
	for _, transaction := range store.transactions {
		if transaction.Type == transactionType && transaction.InitiatorUserID == initiatorUserID {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) InsertJournalEntry(_ context.Context, entry JournalEntry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	if store.insertEntryFailAfter >= 0 && store.insertEntryCalls >= store.insertEntryFailAfter {
		return errStoreFailure
	}
	store.insertEntryCalls++
	entry.EntryID = fmt.Sprintf("entry-%04d", len(store.entries)+1)
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) ListJournalEntries(_ context.Context, walletID WalletID, limit int) ([]JournalEntry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	var matched []JournalEntry
	for index := len(store.entries) - 1; index >= 0; index-- {
		if store.entries[index].WalletID != walletID {
			continue
		}
		matched = append(matched, store.entries[index])
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (store *stubStore) SumJournalAmounts(_ context.Context, walletID WalletID) (int64, error) {
	if store.sumError != nil {
		return 0, store.sumError
	}
	var sum int64
	for _, entry := range store.entries {
		if entry.WalletID != walletID {
			continue
		}
		if entry.Direction == DirectionCredit {
			sum += entry.Amount.Int64()
		} else {
			sum -= entry.Amount.Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) ListLegacyBalances(_ context.Context) ([]LegacyBalance, error) {
	if store.legacyError != nil {
		return nil, store.legacyError
	}
	return append([]LegacyBalance(nil), store.legacy...), nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustAmount(test *testing.T, raw int64) AmountCoins {
	test.Helper()
	amount, err := NewAmountCoins(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustPosting(test *testing.T, userIDValue string, direction Direction, amount int64, memo string) Posting {
	test.Helper()
	posting, err := NewPosting(mustUserID(test, userIDValue), direction, mustAmount(test, amount), memo)
	if err != nil {
		test.Fatalf("posting: %v", err)
	}
	return posting
}

func mustContext(test *testing.T, raw string) ContextJSON {
	test.Helper()
	contextJSON, err := NewContextJSON(raw)
	if err != nil {
		test.Fatalf("context json %q: %v", raw, err)
	}
	return contextJSON
}
