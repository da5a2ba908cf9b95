package coinledger

import (
	"context"
	"errors"
	"sort"
	"testing"
)

var errStoreFailure = errors.New("store failure")

func TestPurchaseSplitMovesEveryBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-1", 500)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-1", DirectionDebit, 200, "content purchase"),
		mustPosting(test, "seller-1", DirectionCredit, 180, "content sale proceeds"),
		mustPosting(test, platformUserIDValue, DirectionCredit, 20, "platform commission"),
	}
	transaction, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-1"), postings, mustContext(test, `{"content_id":"c-9"}`), ExternalRef{})
	if err != nil {
		test.Fatalf("begin transaction: %v", err)
	}
	if transaction.Status != TransactionStatusClosed {
		test.Fatalf("expected closed transaction, got %s", transaction.Status)
	}
	if got := store.wallets["buyer-1"].Balance; got != 300 {
		test.Fatalf("expected buyer balance 300, got %d", got)
	}
	if got := store.wallets["seller-1"].Balance; got != 180 {
		test.Fatalf("expected seller balance 180, got %d", got)
	}
	if got := store.wallets[platformUserIDValue].Balance; got != 20 {
		test.Fatalf("expected platform balance 20, got %d", got)
	}
	if len(store.entries) != 3 {
		test.Fatalf("expected 3 journal entries, got %d", len(store.entries))
	}
	var signedSum int64
	for _, entry := range store.entries {
		if entry.Direction == DirectionCredit {
			signedSum += entry.Amount.Int64()
		} else {
			signedSum -= entry.Amount.Int64()
		}
	}
	if signedSum != 0 {
		test.Fatalf("expected postings to net to zero, got %d", signedSum)
	}
}

func TestPurchaseAppearsInBuyerHistoryWithSnapshots(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-2", 500)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-2", DirectionDebit, 200, "content purchase"),
		mustPosting(test, "seller-2", DirectionCredit, 180, "content sale proceeds"),
		mustPosting(test, platformUserIDValue, DirectionCredit, 20, "platform commission"),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-2"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}

	history, err := service.GetTransactionHistory(context.Background(), mustUserID(test, "buyer-2"), 10)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		test.Fatalf("expected 1 buyer entry, got %d", len(history))
	}
	entry := history[0]
	if entry.Direction != DirectionDebit || entry.Amount != 200 {
		test.Fatalf("unexpected buyer entry: %+v", entry)
	}
	if entry.BalanceBefore != 500 || entry.BalanceAfter != 300 {
		test.Fatalf("expected snapshots 500/300, got %d/%d", entry.BalanceBefore, entry.BalanceAfter)
	}

	sellerHistory, err := service.GetTransactionHistory(context.Background(), mustUserID(test, "seller-2"), 10)
	if err != nil {
		test.Fatalf("seller history: %v", err)
	}
	if len(sellerHistory) != 1 || sellerHistory[0].Direction != DirectionCredit {
		test.Fatalf("expected seller to see only their credit, got %+v", sellerHistory)
	}
}

func TestBeginLedgerTransactionRejectsUnbalancedPostings(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-3", 500)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-3", DirectionDebit, 200, ""),
		mustPosting(test, "seller-3", DirectionCredit, 150, ""),
	}
	_, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-3"), postings, mustContext(test, "{}"), ExternalRef{})
	if !errors.Is(err, ErrUnbalancedTransaction) {
		test.Fatalf("expected ErrUnbalancedTransaction, got %v", err)
	}
	if len(store.entries) != 0 || len(store.transactions) != 0 {
		test.Fatalf("expected no persisted state, got %d entries, %d transactions", len(store.entries), len(store.transactions))
	}
}

func TestBeginLedgerTransactionRejectsEmptyPostings(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	_, err := service.BeginLedgerTransaction(context.Background(), TransactionEarn, mustUserID(test, "user-x"), nil, mustContext(test, "{}"), ExternalRef{})
	if !errors.Is(err, ErrEmptyPostings) {
		test.Fatalf("expected ErrEmptyPostings, got %v", err)
	}
}

func TestInsufficientBalanceAbortsWholeTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-4", 100)
	store.seedWallet(test, "seller-4", 0)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-4", DirectionDebit, 200, ""),
		mustPosting(test, "seller-4", DirectionCredit, 180, ""),
		mustPosting(test, platformUserIDValue, DirectionCredit, 20, ""),
	}
	_, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-4"), postings, mustContext(test, "{}"), ExternalRef{})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := store.wallets["buyer-4"].Balance; got != 100 {
		test.Fatalf("expected buyer untouched at 100, got %d", got)
	}
	if got := store.wallets["seller-4"].Balance; got != 0 {
		test.Fatalf("expected seller untouched at 0, got %d", got)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no journal entries, got %d", len(store.entries))
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected no ledger transaction, got %d", len(store.transactions))
	}
}

func TestStoreFaultMidPostingLeavesNoPartialState(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-5", 500)
	store.insertEntryFailAfter = 1
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-5", DirectionDebit, 200, ""),
		mustPosting(test, "seller-5", DirectionCredit, 200, ""),
	}
	_, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-5"), postings, mustContext(test, "{}"), ExternalRef{})
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected injected store failure, got %v", err)
	}
	if got := store.wallets["buyer-5"].Balance; got != 500 {
		test.Fatalf("expected buyer rolled back to 500, got %d", got)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected rollback to drop all entries, got %d", len(store.entries))
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected rollback to drop the pending transaction, got %d", len(store.transactions))
	}
}

func TestPlatformWalletMayGoNegative(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "author-1", DirectionCredit, 50, "content publish reward"),
		mustPosting(test, platformUserIDValue, DirectionDebit, 50, "content publish reward"),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionEarn, mustUserID(test, "author-1"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}
	if got := store.wallets[platformUserIDValue].Balance; got != -50 {
		test.Fatalf("expected platform balance -50, got %d", got)
	}
	if got := store.wallets["author-1"].Balance; got != 50 {
		test.Fatalf("expected author balance 50, got %d", got)
	}
}

func TestExternalRefCollisionReturnsPriorTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "buyer-6", 500)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "buyer-6", DirectionDebit, 100, ""),
		mustPosting(test, "seller-6", DirectionCredit, 100, ""),
	}
	externalRef := NewExternalRef("order-42")
	first, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-6"), postings, mustContext(test, "{}"), externalRef)
	if err != nil {
		test.Fatalf("first call: %v", err)
	}
	second, err := service.BeginLedgerTransaction(context.Background(), TransactionPurchase, mustUserID(test, "buyer-6"), postings, mustContext(test, "{}"), externalRef)
	if err != nil {
		test.Fatalf("second call: %v", err)
	}
	if first.TransactionID != second.TransactionID {
		test.Fatalf("expected prior transaction %s, got %s", first.TransactionID.String(), second.TransactionID.String())
	}
	if len(store.entries) != 2 {
		test.Fatalf("expected no additional postings on retry, got %d entries", len(store.entries))
	}
	if got := store.wallets["buyer-6"].Balance; got != 400 {
		test.Fatalf("expected single debit to 400, got %d", got)
	}
}

func TestWalletsLockedInWalletIDOrder(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "late-user", 500)
	store.seedWallet(test, "early-user", 500)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "early-user", DirectionCredit, 100, ""),
		mustPosting(test, "late-user", DirectionDebit, 100, ""),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionAdjustment, mustUserID(test, "late-user"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}
	if !sort.StringsAreSorted(store.lockOrder) {
		test.Fatalf("expected wallets locked in sorted order, got %v", store.lockOrder)
	}
}

func TestSuspendedWalletRejectsPostings(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	wallet := store.seedWallet(test, "frozen-user", 500)
	wallet.Status = WalletStatusSuspended
	store.wallets["frozen-user"] = wallet
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "frozen-user", DirectionDebit, 100, ""),
		mustPosting(test, platformUserIDValue, DirectionCredit, 100, ""),
	}
	_, err := service.BeginLedgerTransaction(context.Background(), TransactionWithdrawal, mustUserID(test, "frozen-user"), postings, mustContext(test, "{}"), ExternalRef{})
	if !errors.Is(err, ErrWalletNotActive) {
		test.Fatalf("expected ErrWalletNotActive, got %v", err)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no entries, got %d", len(store.entries))
	}
}

func TestGetWalletAutoProvisions(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	wallet, err := service.GetWallet(context.Background(), mustUserID(test, "fresh-user"))
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if wallet.Balance != 0 || wallet.AvailableBalance != 0 {
		test.Fatalf("expected zero balances, got %+v", wallet)
	}
	if wallet.Status != WalletStatusActive {
		test.Fatalf("expected active wallet, got %s", wallet.Status)
	}
}

func TestBeginLedgerTransactionPropagatesStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name:      "transaction create error",
			configure: func(store *stubStore) { store.createTransactionError = errStoreFailure },
		},
		{
			name:      "wallet lookup error",
			configure: func(store *stubStore) { store.getOrCreateError = errStoreFailure },
		},
		{
			name:      "lock error",
			configure: func(store *stubStore) { store.lockWalletError = errStoreFailure },
		},
		{
			name:      "entry insert error",
			configure: func(store *stubStore) { store.insertEntryError = errStoreFailure },
		},
		{
			name:      "close error",
			configure: func(store *stubStore) { store.closeTransactionError = errStoreFailure },
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.seedWallet(test, "user-a", 500)
			store.seedWallet(test, "user-b", 0)
			testCase.configure(store)
			service := mustNewService(test, store)

			postings := []Posting{
				mustPosting(test, "user-a", DirectionDebit, 100, ""),
				mustPosting(test, "user-b", DirectionCredit, 100, ""),
			}
			_, err := service.BeginLedgerTransaction(context.Background(), TransactionAdjustment, mustUserID(test, "user-a"), postings, mustContext(test, "{}"), ExternalRef{})
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
			if got := store.wallets["user-a"].Balance; got != 500 {
				test.Fatalf("expected rollback to 500, got %d", got)
			}
		})
	}
}

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
