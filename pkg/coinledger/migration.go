package coinledger

import "context"

// BackfillReport summarizes one opening-balance migration run.
type BackfillReport struct {
	Created int
	Skipped int
}

// BackfillOpeningBalances converts legacy single-column balances into
// ledger-backed wallets. Safe to run repeatedly: users who already have
// a wallet, or an opening-balance transaction initiated for them, are
// skipped. Nonzero legacy balances become a balanced transaction
// crediting the user and debiting the platform wallet; zero balances
// just provision an empty wallet.
func (service *Service) BackfillOpeningBalances(ctx context.Context) (BackfillReport, error) {
	report := BackfillReport{}
	operationError := func() error {
		legacyBalances, err := service.store.ListLegacyBalances(ctx)
		if err != nil {
			return err
		}
		for _, legacy := range legacyBalances {
			exists, err := service.store.WalletExists(ctx, legacy.UserID)
			if err != nil {
				return err
			}
			if exists {
				report.Skipped++
				continue
			}
			migrated, err := service.store.HasTransactionByInitiator(ctx, TransactionOpeningBalance, legacy.UserID)
			if err != nil {
				return err
			}
			if migrated {
				report.Skipped++
				continue
			}
			if legacy.Balance <= 0 {
				// A negative legacy balance cannot be replayed without
				// driving the new wallet below zero; provision empty and
				// leave the correction to a manual adjustment transaction.
				if _, err := service.store.CreateWallet(ctx, legacy.UserID); err != nil {
					return err
				}
				report.Created++
				continue
			}
			amount, err := NewAmountCoins(legacy.Balance)
			if err != nil {
				return err
			}
			credit, err := NewPosting(legacy.UserID, DirectionCredit, amount, memoOpeningBalance)
			if err != nil {
				return err
			}
			debit, err := NewPosting(PlatformUserID(), DirectionDebit, amount, memoOpeningBalance)
			if err != nil {
				return err
			}
			contextJSON, err := ContextFromPairs(map[string]string{"migration": "opening_balance"})
			if err != nil {
				return err
			}
			externalRef := NewExternalRef(openingBalanceRefPrefix + legacy.UserID.String())
			if _, err := service.BeginLedgerTransaction(ctx, TransactionOpeningBalance, legacy.UserID, []Posting{credit, debit}, contextJSON, externalRef); err != nil {
				return err
			}
			report.Created++
		}
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationBackfill,
		Error:     operationError,
	})
	if operationError != nil {
		return BackfillReport{}, operationError
	}
	return report, nil
}
