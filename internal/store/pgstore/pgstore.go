package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quantbazaar/coinledger/pkg/coinledger"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	pgLockNotAvailableCode     = "55P03"
	errorOperationStore        = "store"
	errorSubjectWallet         = "wallet"
	errorSubjectTransaction    = "transaction"
	errorSubjectJournal        = "journal"
	errorSubjectLegacy         = "legacy_balance"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeClose             = "close"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeExists            = "exists"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeLookup            = "lookup"
	errorCodeSum               = "sum"
	errorCodeUpdateBalance     = "update_balance"

	sqlGetOrCreateWallet = `
		insert into wallets(wallet_id, user_id, balance, available_balance, status)
		values (gen_random_uuid(), $1, 0, 0, 'active')
		on conflict (user_id) do update set user_id = excluded.user_id
		returning wallet_id::text, user_id, balance, available_balance, status
	`

	sqlCreateWallet = `
		insert into wallets(wallet_id, user_id, balance, available_balance, status)
		values (gen_random_uuid(), $1, 0, 0, 'active')
		returning wallet_id::text, user_id, balance, available_balance, status
	`

	sqlWalletExists = `
		select exists(select 1 from wallets where user_id = $1)
	`

	sqlLockWallet = `
		select wallet_id::text, user_id, balance, available_balance, status
		from wallets
		where wallet_id = $1
		for update
	`

	sqlUpdateWalletBalance = `
		update wallets
		set balance = $2, available_balance = $3, updated_at = now()
		where wallet_id = $1
	`

	sqlListWallets = `
		select wallet_id::text, user_id, balance, available_balance, status
		from wallets
		order by user_id asc
	`

	sqlCreateTransaction = `
		insert into ledger_transactions(
			transaction_id, type, initiator_user_id, context, external_ref, status, created_at
		)
		values (
			gen_random_uuid(), $1, $2,
			coalesce(nullif($3,''),'{}')::jsonb,
			nullif($4,''), $5, to_timestamp($6)
		)
		returning transaction_id::text
	`

	sqlCloseTransaction = `
		update ledger_transactions
		set status = 'closed', closed_at = to_timestamp($2)
		where transaction_id = $1 and status = 'pending'
	`

	sqlFindTransactionByRef = `
		select
			transaction_id::text,
			type,
			initiator_user_id,
			context::text,
			coalesce(external_ref,''),
			status,
			extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from closed_at)::bigint,0)
		from ledger_transactions
		where external_ref = $1
	`

	sqlHasTransactionByInitiator = `
		select exists(
			select 1 from ledger_transactions
			where type = $1 and initiator_user_id = $2
		)
	`

	sqlInsertJournalEntry = `
		insert into journal_entries(
			entry_id, transaction_id, wallet_id, direction, amount,
			balance_before, balance_after, memo, created_at
		)
		values (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, to_timestamp($8))
	`

	sqlListJournalEntries = `
		select
			entry_id::text,
			transaction_id::text,
			wallet_id::text,
			direction,
			amount,
			balance_before,
			balance_after,
			coalesce(memo,''),
			extract(epoch from created_at)::bigint
		from journal_entries
		where wallet_id = $1
		order by created_at desc
		limit $2
	`

	sqlSumJournalAmounts = `
		select coalesce(sum(case when direction = 'credit' then amount else -amount end),0)
		from journal_entries
		where wallet_id = $1
	`

	sqlListLegacyBalances = `
		select user_id, balance from legacy_balances order by user_id asc
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements coinledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements coinledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coinledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	return getOrCreateWallet(ctx, store.pool, userID)
}

func (store *Store) CreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	return createWallet(ctx, store.pool, userID)
}

func (store *Store) WalletExists(ctx context.Context, userID coinledger.UserID) (bool, error) {
	return walletExists(ctx, store.pool, userID)
}

func (store *Store) LockWallet(ctx context.Context, walletID coinledger.WalletID) (coinledger.Wallet, error) {
	return lockWallet(ctx, store.pool, walletID)
}

func (store *Store) UpdateWalletBalance(ctx context.Context, walletID coinledger.WalletID, balance int64, availableBalance int64) error {
	return updateWalletBalance(ctx, store.pool, walletID, balance, availableBalance)
}

func (store *Store) ListWallets(ctx context.Context) ([]coinledger.Wallet, error) {
	return listWallets(ctx, store.pool)
}

func (store *Store) CreateLedgerTransaction(ctx context.Context, transaction coinledger.LedgerTransaction) (coinledger.LedgerTransaction, error) {
	return createLedgerTransaction(ctx, store.pool, transaction)
}

func (store *Store) CloseLedgerTransaction(ctx context.Context, transactionID coinledger.TransactionID, closedUnixUTC int64) error {
	return closeLedgerTransaction(ctx, store.pool, transactionID, closedUnixUTC)
}

func (store *Store) FindTransactionByExternalRef(ctx context.Context, ref coinledger.ExternalRef) (coinledger.LedgerTransaction, bool, error) {
	return findTransactionByExternalRef(ctx, store.pool, ref)
}

func (store *Store) HasTransactionByInitiator(ctx context.Context, transactionType coinledger.TransactionType, initiatorUserID coinledger.UserID) (bool, error) {
	return hasTransactionByInitiator(ctx, store.pool, transactionType, initiatorUserID)
}

func (store *Store) InsertJournalEntry(ctx context.Context, entry coinledger.JournalEntry) error {
	return insertJournalEntry(ctx, store.pool, entry)
}

func (store *Store) ListJournalEntries(ctx context.Context, walletID coinledger.WalletID, limit int) ([]coinledger.JournalEntry, error) {
	return listJournalEntries(ctx, store.pool, walletID, limit)
}

func (store *Store) SumJournalAmounts(ctx context.Context, walletID coinledger.WalletID) (int64, error) {
	return sumJournalAmounts(ctx, store.pool, walletID)
}

func (store *Store) ListLegacyBalances(ctx context.Context) ([]coinledger.LegacyBalance, error) {
	return listLegacyBalances(ctx, store.pool)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coinledger.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) GetOrCreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	return getOrCreateWallet(ctx, store.tx, userID)
}

func (store *TxStore) CreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	return createWallet(ctx, store.tx, userID)
}

func (store *TxStore) WalletExists(ctx context.Context, userID coinledger.UserID) (bool, error) {
	return walletExists(ctx, store.tx, userID)
}

func (store *TxStore) LockWallet(ctx context.Context, walletID coinledger.WalletID) (coinledger.Wallet, error) {
	return lockWallet(ctx, store.tx, walletID)
}

func (store *TxStore) UpdateWalletBalance(ctx context.Context, walletID coinledger.WalletID, balance int64, availableBalance int64) error {
	return updateWalletBalance(ctx, store.tx, walletID, balance, availableBalance)
}

func (store *TxStore) ListWallets(ctx context.Context) ([]coinledger.Wallet, error) {
	return listWallets(ctx, store.tx)
}

func (store *TxStore) CreateLedgerTransaction(ctx context.Context, transaction coinledger.LedgerTransaction) (coinledger.LedgerTransaction, error) {
	return createLedgerTransaction(ctx, store.tx, transaction)
}

func (store *TxStore) CloseLedgerTransaction(ctx context.Context, transactionID coinledger.TransactionID, closedUnixUTC int64) error {
	return closeLedgerTransaction(ctx, store.tx, transactionID, closedUnixUTC)
}

func (store *TxStore) FindTransactionByExternalRef(ctx context.Context, ref coinledger.ExternalRef) (coinledger.LedgerTransaction, bool, error) {
	return findTransactionByExternalRef(ctx, store.tx, ref)
}

func (store *TxStore) HasTransactionByInitiator(ctx context.Context, transactionType coinledger.TransactionType, initiatorUserID coinledger.UserID) (bool, error) {
	return hasTransactionByInitiator(ctx, store.tx, transactionType, initiatorUserID)
}

func (store *TxStore) InsertJournalEntry(ctx context.Context, entry coinledger.JournalEntry) error {
	return insertJournalEntry(ctx, store.tx, entry)
}

func (store *TxStore) ListJournalEntries(ctx context.Context, walletID coinledger.WalletID, limit int) ([]coinledger.JournalEntry, error) {
	return listJournalEntries(ctx, store.tx, walletID, limit)
}

func (store *TxStore) SumJournalAmounts(ctx context.Context, walletID coinledger.WalletID) (int64, error) {
	return sumJournalAmounts(ctx, store.tx, walletID)
}

func (store *TxStore) ListLegacyBalances(ctx context.Context) ([]coinledger.LegacyBalance, error) {
	return listLegacyBalances(ctx, store.tx)
}

func getOrCreateWallet(ctx context.Context, db querier, userID coinledger.UserID) (coinledger.Wallet, error) {
	row := db.QueryRow(ctx, sqlGetOrCreateWallet, userID.String())
	wallet, err := scanWallet(row)
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, translateConcurrencyError(err))
	}
	return wallet, nil
}

func createWallet(ctx context.Context, db querier, userID coinledger.UserID) (coinledger.Wallet, error) {
	row := db.QueryRow(ctx, sqlCreateWallet, userID.String())
	wallet, err := scanWallet(row)
	if isUniqueViolation(err) {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDuplicate, coinledger.ErrWalletExists)
	}
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return wallet, nil
}

func walletExists(ctx context.Context, db querier, userID coinledger.UserID) (bool, error) {
	var exists bool
	if err := db.QueryRow(ctx, sqlWalletExists, userID.String()).Scan(&exists); err != nil {
		return false, wrapStoreError(errorSubjectWallet, errorCodeExists, err)
	}
	return exists, nil
}

func lockWallet(ctx context.Context, db querier, walletID coinledger.WalletID) (coinledger.Wallet, error) {
	row := db.QueryRow(ctx, sqlLockWallet, walletID.String())
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, coinledger.ErrWalletNotFound)
		}
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, translateConcurrencyError(err))
	}
	return wallet, nil
}

func updateWalletBalance(ctx context.Context, db querier, walletID coinledger.WalletID, balance int64, availableBalance int64) error {
	tag, err := db.Exec(ctx, sqlUpdateWalletBalance, walletID.String(), balance, availableBalance)
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, translateConcurrencyError(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, coinledger.ErrWalletNotFound)
	}
	return nil
}

func listWallets(ctx context.Context, db querier) ([]coinledger.Wallet, error) {
	rows, err := db.Query(ctx, sqlListWallets)
	if err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	defer rows.Close()
	var wallets []coinledger.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	return wallets, nil
}

func createLedgerTransaction(ctx context.Context, db querier, transaction coinledger.LedgerTransaction) (coinledger.LedgerTransaction, error) {
	var transactionIDValue string
	err := db.QueryRow(ctx, sqlCreateTransaction,
		transaction.Type.String(),
		transaction.InitiatorUserID.String(),
		transaction.Context.String(),
		transaction.ExternalRef.String(),
		transaction.Status.String(),
		transaction.CreatedUnixUTC,
	).Scan(&transactionIDValue)
	if isUniqueViolation(err) {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, coinledger.ErrDuplicateExternalRef)
	}
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeCreate, err)
	}
	transactionID, err := coinledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	transaction.TransactionID = transactionID
	return transaction, nil
}

func closeLedgerTransaction(ctx context.Context, db querier, transactionID coinledger.TransactionID, closedUnixUTC int64) error {
	tag, err := db.Exec(ctx, sqlCloseTransaction, transactionID.String(), closedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, coinledger.ErrTransactionNotFound)
	}
	return nil
}

func findTransactionByExternalRef(ctx context.Context, db querier, ref coinledger.ExternalRef) (coinledger.LedgerTransaction, bool, error) {
	var (
		transactionIDValue string
		typeValue          string
		initiatorValue     string
		contextValue       string
		externalRefValue   string
		statusValue        string
		createdUnixUTC     int64
		closedUnixUTC      int64
	)
	err := db.QueryRow(ctx, sqlFindTransactionByRef, ref.String()).Scan(
		&transactionIDValue,
		&typeValue,
		&initiatorValue,
		&contextValue,
		&externalRefValue,
		&statusValue,
		&createdUnixUTC,
		&closedUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return coinledger.LedgerTransaction{}, false, nil
	}
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transactionID, err := coinledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	transactionType, err := coinledger.ParseTransactionType(typeValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	initiatorUserID, err := coinledger.NewUserID(initiatorValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	status, err := coinledger.ParseTransactionStatus(statusValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	contextJSON, err := coinledger.NewContextJSON(contextValue)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return coinledger.LedgerTransaction{
		TransactionID:   transactionID,
		Type:            transactionType,
		InitiatorUserID: initiatorUserID,
		Context:         contextJSON,
		ExternalRef:     coinledger.NewExternalRef(externalRefValue),
		Status:          status,
		CreatedUnixUTC:  createdUnixUTC,
		ClosedUnixUTC:   closedUnixUTC,
	}, true, nil
}

func hasTransactionByInitiator(ctx context.Context, db querier, transactionType coinledger.TransactionType, initiatorUserID coinledger.UserID) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, sqlHasTransactionByInitiator, transactionType.String(), initiatorUserID.String()).Scan(&exists)
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return exists, nil
}

func insertJournalEntry(ctx context.Context, db querier, entry coinledger.JournalEntry) error {
	_, err := db.Exec(ctx, sqlInsertJournalEntry,
		entry.TransactionID.String(),
		entry.WalletID.String(),
		entry.Direction.String(),
		entry.Amount.Int64(),
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Memo,
		entry.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeInsert, err)
	}
	return nil
}

func listJournalEntries(ctx context.Context, db querier, walletID coinledger.WalletID, limit int) ([]coinledger.JournalEntry, error) {
	rows, err := db.Query(ctx, sqlListJournalEntries, walletID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	defer rows.Close()
	var entries []coinledger.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	return entries, nil
}

func sumJournalAmounts(ctx context.Context, db querier, walletID coinledger.WalletID) (int64, error) {
	var sum int64
	if err := db.QueryRow(ctx, sqlSumJournalAmounts, walletID.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectJournal, errorCodeSum, err)
	}
	return sum, nil
}

func listLegacyBalances(ctx context.Context, db querier) ([]coinledger.LegacyBalance, error) {
	rows, err := db.Query(ctx, sqlListLegacyBalances)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLegacy, errorCodeList, err)
	}
	defer rows.Close()
	var balances []coinledger.LegacyBalance
	for rows.Next() {
		var (
			userIDValue string
			balance     int64
		)
		if err := rows.Scan(&userIDValue, &balance); err != nil {
			return nil, wrapStoreError(errorSubjectLegacy, errorCodeInvalid, err)
		}
		userID, err := coinledger.NewUserID(userIDValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLegacy, errorCodeInvalid, err)
		}
		balances = append(balances, coinledger.LegacyBalance{UserID: userID, Balance: balance})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectLegacy, errorCodeList, err)
	}
	return balances, nil
}

func scanWallet(row pgx.Row) (coinledger.Wallet, error) {
	var (
		walletIDValue    string
		userIDValue      string
		balance          int64
		availableBalance int64
		statusValue      string
	)
	if err := row.Scan(&walletIDValue, &userIDValue, &balance, &availableBalance, &statusValue); err != nil {
		return coinledger.Wallet{}, err
	}
	walletID, err := coinledger.NewWalletID(walletIDValue)
	if err != nil {
		return coinledger.Wallet{}, err
	}
	userID, err := coinledger.NewUserID(userIDValue)
	if err != nil {
		return coinledger.Wallet{}, err
	}
	status, err := coinledger.ParseWalletStatus(statusValue)
	if err != nil {
		return coinledger.Wallet{}, err
	}
	return coinledger.Wallet{
		WalletID:         walletID,
		UserID:           userID,
		Balance:          balance,
		AvailableBalance: availableBalance,
		Status:           status,
	}, nil
}

func scanJournalEntry(row pgx.Row) (coinledger.JournalEntry, error) {
	var (
		entryIDValue       string
		transactionIDValue string
		walletIDValue      string
		directionValue     string
		amountValue        int64
		balanceBefore      int64
		balanceAfter       int64
		memo               string
		createdUnixUTC     int64
	)
	if err := row.Scan(
		&entryIDValue,
		&transactionIDValue,
		&walletIDValue,
		&directionValue,
		&amountValue,
		&balanceBefore,
		&balanceAfter,
		&memo,
		&createdUnixUTC,
	); err != nil {
		return coinledger.JournalEntry{}, err
	}
	transactionID, err := coinledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return coinledger.JournalEntry{}, err
	}
	walletID, err := coinledger.NewWalletID(walletIDValue)
	if err != nil {
		return coinledger.JournalEntry{}, err
	}
	direction, err := coinledger.ParseDirection(directionValue)
	if err != nil {
		return coinledger.JournalEntry{}, err
	}
	amount, err := coinledger.NewAmountCoins(amountValue)
	if err != nil {
		return coinledger.JournalEntry{}, err
	}
	return coinledger.JournalEntry{
		EntryID:        entryIDValue,
		TransactionID:  transactionID,
		WalletID:       walletID,
		Direction:      direction,
		Amount:         amount,
		BalanceBefore:  balanceBefore,
		BalanceAfter:   balanceAfter,
		Memo:           memo,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return coinledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}

func translateConcurrencyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailureCode, pgDeadlockDetectedCode, pgLockNotAvailableCode:
			return coinledger.ErrSerializationConflict
		}
	}
	return err
}
