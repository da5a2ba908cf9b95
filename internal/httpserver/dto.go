package httpserver

import (
	"github.com/gin-gonic/gin"
	"github.com/quantbazaar/coinledger/pkg/coinledger"
)

type purchaseRequest struct {
	BuyerUserID  string `json:"buyer_user_id"`
	SellerUserID string `json:"seller_user_id"`
	ContentID    string `json:"content_id"`
	Price        int64  `json:"price"`
	ExternalRef  string `json:"external_ref"`
}

type withdrawalRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	ExternalRef string `json:"external_ref"`
}

type signupBonusRequest struct {
	UserID string `json:"user_id"`
}

func walletResponse(wallet coinledger.Wallet) gin.H {
	return gin.H{
		"wallet_id":         wallet.WalletID.String(),
		"user_id":           wallet.UserID.String(),
		"balance":           wallet.Balance,
		"available_balance": wallet.AvailableBalance,
		"status":            wallet.Status.String(),
	}
}

func transactionResponse(transaction coinledger.LedgerTransaction) gin.H {
	return gin.H{
		"transaction_id": transaction.TransactionID.String(),
		"type":           transaction.Type.String(),
		"initiator":      transaction.InitiatorUserID.String(),
		"status":         transaction.Status.String(),
		"created_at":     transaction.CreatedUnixUTC,
		"closed_at":      transaction.ClosedUnixUTC,
	}
}

func historyResponse(entries []coinledger.JournalEntry) gin.H {
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"entry_id":       entry.EntryID,
			"transaction_id": entry.TransactionID.String(),
			"direction":      entry.Direction.String(),
			"amount":         entry.Amount.Int64(),
			"balance_before": entry.BalanceBefore,
			"balance_after":  entry.BalanceAfter,
			"memo":           entry.Memo,
			"created_at":     entry.CreatedUnixUTC,
		})
	}
	return gin.H{"entries": items}
}

func reconcileResponse(report coinledger.ReconciliationReport) gin.H {
	drifts := make([]gin.H, 0, len(report.Drifts))
	for _, drift := range report.Drifts {
		drifts = append(drifts, gin.H{
			"wallet_id":       drift.WalletID.String(),
			"user_id":         drift.UserID.String(),
			"stored_balance":  drift.StoredBalance,
			"journal_balance": drift.JournalBalance,
			"delta":           drift.Delta,
		})
	}
	return gin.H{
		"wallet_count": report.WalletCount,
		"drift_count":  report.DriftCount,
		"max_delta":    report.MaxDelta,
		"drifts":       drifts,
	}
}
