package coinledger

import (
	"context"
	"errors"
	"testing"
)

func TestBackfillCreatesWalletsFromLegacyBalances(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.legacy = []LegacyBalance{
		{UserID: mustUserID(test, "legacy-1"), Balance: 250},
		{UserID: mustUserID(test, "legacy-2"), Balance: 40},
	}
	service := mustNewService(test, store)

	report, err := service.BackfillOpeningBalances(context.Background())
	if err != nil {
		test.Fatalf("backfill: %v", err)
	}
	if report.Created != 2 || report.Skipped != 0 {
		test.Fatalf("expected created=2 skipped=0, got %+v", report)
	}
	if got := store.wallets["legacy-1"].Balance; got != 250 {
		test.Fatalf("expected legacy-1 balance 250, got %d", got)
	}
	if got := store.wallets["legacy-2"].Balance; got != 40 {
		test.Fatalf("expected legacy-2 balance 40, got %d", got)
	}
	if got := store.wallets[platformUserIDValue].Balance; got != -290 {
		test.Fatalf("expected platform to carry -290, got %d", got)
	}

	history, err := service.GetTransactionHistory(context.Background(), mustUserID(test, "legacy-1"), 10)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		test.Fatalf("expected one opening entry, got %d", len(history))
	}
	if history[0].BalanceBefore != 0 || history[0].BalanceAfter != 250 {
		test.Fatalf("expected snapshots 0/250, got %d/%d", history[0].BalanceBefore, history[0].BalanceAfter)
	}
}

func TestBackfillSecondRunCreatesNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.legacy = []LegacyBalance{
		{UserID: mustUserID(test, "legacy-3"), Balance: 120},
	}
	service := mustNewService(test, store)

	first, err := service.BackfillOpeningBalances(context.Background())
	if err != nil {
		test.Fatalf("first run: %v", err)
	}
	if first.Created != 1 {
		test.Fatalf("expected created=1, got %+v", first)
	}

	second, err := service.BackfillOpeningBalances(context.Background())
	if err != nil {
		test.Fatalf("second run: %v", err)
	}
	if second.Created != 0 || second.Skipped != 1 {
		test.Fatalf("expected created=0 skipped=1, got %+v", second)
	}
	if got := store.wallets["legacy-3"].Balance; got != 120 {
		test.Fatalf("expected balance unchanged at 120, got %d", got)
	}
	if len(store.entries) != 2 {
		test.Fatalf("expected the original two entries only, got %d", len(store.entries))
	}
}

func TestBackfillZeroAndNegativeBalancesProvisionEmptyWallets(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.legacy = []LegacyBalance{
		{UserID: mustUserID(test, "legacy-4"), Balance: 0},
		{UserID: mustUserID(test, "legacy-5"), Balance: -30},
	}
	service := mustNewService(test, store)

	report, err := service.BackfillOpeningBalances(context.Background())
	if err != nil {
		test.Fatalf("backfill: %v", err)
	}
	if report.Created != 2 || report.Skipped != 0 {
		test.Fatalf("expected created=2 skipped=0, got %+v", report)
	}
	if got := store.wallets["legacy-4"].Balance; got != 0 {
		test.Fatalf("expected empty wallet for legacy-4, got %d", got)
	}
	if got := store.wallets["legacy-5"].Balance; got != 0 {
		test.Fatalf("expected empty wallet for legacy-5, got %d", got)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no journal entries, got %d", len(store.entries))
	}
}

func TestBackfillSkipsUsersWithExistingWallets(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedWallet(test, "legacy-6", 500)
	store.legacy = []LegacyBalance{
		{UserID: mustUserID(test, "legacy-6"), Balance: 999},
	}
	service := mustNewService(test, store)

	report, err := service.BackfillOpeningBalances(context.Background())
	if err != nil {
		test.Fatalf("backfill: %v", err)
	}
	if report.Created != 0 || report.Skipped != 1 {
		test.Fatalf("expected created=0 skipped=1, got %+v", report)
	}
	if got := store.wallets["legacy-6"].Balance; got != 500 {
		test.Fatalf("expected existing balance untouched at 500, got %d", got)
	}
}

func TestBackfillPropagatesStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.legacy = []LegacyBalance{
		{UserID: mustUserID(test, "legacy-7"), Balance: 10},
	}
	store.getOrCreateError = errStoreFailure
	service := mustNewService(test, store)

	if _, err := service.BackfillOpeningBalances(context.Background()); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
}
