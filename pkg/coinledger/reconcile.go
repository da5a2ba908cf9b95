package coinledger

import "context"

// WalletDrift describes one wallet whose stored balance disagrees with
// its journal.
type WalletDrift struct {
	WalletID       WalletID
	UserID         UserID
	StoredBalance  int64
	JournalBalance int64
	Delta          int64
}

// ReconciliationReport summarizes a full-ledger audit.
type ReconciliationReport struct {
	WalletCount int
	DriftCount  int
	MaxDelta    int64
	Drifts      []WalletDrift
}

// ReconcileAllWallets recomputes every wallet's balance from its journal
// and reports mismatches against the stored balance. Read-only: drift is
// reported, never healed here.
func (service *Service) ReconcileAllWallets(ctx context.Context) (ReconciliationReport, error) {
	report := ReconciliationReport{}
	operationError := func() error {
		wallets, err := service.store.ListWallets(ctx)
		if err != nil {
			return err
		}
		report.WalletCount = len(wallets)
		for _, wallet := range wallets {
			journalBalance, err := service.store.SumJournalAmounts(ctx, wallet.WalletID)
			if err != nil {
				return err
			}
			delta := wallet.Balance - journalBalance
			if delta == 0 {
				continue
			}
			report.DriftCount++
			if abs64(delta) > report.MaxDelta {
				report.MaxDelta = abs64(delta)
			}
			report.Drifts = append(report.Drifts, WalletDrift{
				WalletID:       wallet.WalletID,
				UserID:         wallet.UserID,
				StoredBalance:  wallet.Balance,
				JournalBalance: journalBalance,
				Delta:          delta,
			})
		}
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		Error:     operationError,
	})
	if operationError != nil {
		return ReconciliationReport{}, operationError
	}
	return report, nil
}

func abs64(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
