package coinledger

import (
	"context"
	"errors"
	"testing"
)

func TestReconcileReportsCleanLedger(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "reader-1", DirectionCredit, 100, "signup bonus"),
		mustPosting(test, platformUserIDValue, DirectionDebit, 100, "signup bonus"),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionSignupBonus, mustUserID(test, "reader-1"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}

	report, err := service.ReconcileAllWallets(context.Background())
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.WalletCount != 2 {
		test.Fatalf("expected 2 wallets, got %d", report.WalletCount)
	}
	if report.DriftCount != 0 || report.MaxDelta != 0 || len(report.Drifts) != 0 {
		test.Fatalf("expected clean report, got %+v", report)
	}
}

func TestReconcileDetectsTamperedBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "reader-2", DirectionCredit, 100, "signup bonus"),
		mustPosting(test, platformUserIDValue, DirectionDebit, 100, "signup bonus"),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionSignupBonus, mustUserID(test, "reader-2"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}

	tampered := store.wallets["reader-2"]
	tampered.Balance += 75
	store.wallets["reader-2"] = tampered

	report, err := service.ReconcileAllWallets(context.Background())
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.DriftCount != 1 {
		test.Fatalf("expected 1 drift, got %d", report.DriftCount)
	}
	if report.MaxDelta != 75 {
		test.Fatalf("expected max delta 75, got %d", report.MaxDelta)
	}
	if len(report.Drifts) != 1 {
		test.Fatalf("expected 1 drift record, got %d", len(report.Drifts))
	}
	drift := report.Drifts[0]
	if drift.UserID.String() != "reader-2" {
		test.Fatalf("expected drift on reader-2, got %s", drift.UserID.String())
	}
	if drift.StoredBalance != 175 || drift.JournalBalance != 100 || drift.Delta != 75 {
		test.Fatalf("unexpected drift values: %+v", drift)
	}
}

func TestReconcileMaxDeltaUsesAbsoluteValue(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	postings := []Posting{
		mustPosting(test, "reader-3", DirectionCredit, 100, ""),
		mustPosting(test, platformUserIDValue, DirectionDebit, 100, ""),
	}
	if _, err := service.BeginLedgerTransaction(context.Background(), TransactionSignupBonus, mustUserID(test, "reader-3"), postings, mustContext(test, "{}"), ExternalRef{}); err != nil {
		test.Fatalf("begin transaction: %v", err)
	}

	tampered := store.wallets["reader-3"]
	tampered.Balance -= 40
	store.wallets["reader-3"] = tampered

	report, err := service.ReconcileAllWallets(context.Background())
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.MaxDelta != 40 {
		test.Fatalf("expected max delta 40, got %d", report.MaxDelta)
	}
	if report.Drifts[0].Delta != -40 {
		test.Fatalf("expected signed delta -40, got %d", report.Drifts[0].Delta)
	}
}

func TestReconcilePropagatesStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.listWalletsError = errStoreFailure
	service := mustNewService(test, store)

	if _, err := service.ReconcileAllWallets(context.Background()); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
}
