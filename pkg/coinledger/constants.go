package coinledger

const (
	operationGetWallet        = "get_wallet"
	operationBeginTransaction = "begin_transaction"
	operationHistory          = "history"
	operationReconcile        = "reconcile"
	operationBackfill         = "backfill"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	memoOpeningBalance      = "opening balance migration"
	openingBalanceRefPrefix = "opening-balance:"
	defaultHistoryLimit     = 50
	maxHistoryLimit         = 500
)
