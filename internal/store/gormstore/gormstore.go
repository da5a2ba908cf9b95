package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quantbazaar/coinledger/pkg/coinledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	pgLockNotAvailableCode     = "55P03"
	sqliteConstraintCode       = 19
	defaultContextJSON         = "{}"
	errorOperationStore        = "store"
	errorSubjectWallet         = "wallet"
	errorSubjectTransaction    = "transaction"
	errorSubjectJournal        = "journal"
	errorSubjectLegacy         = "legacy_balance"
	errorCodeCreate            = "create"
	errorCodeClose             = "close"
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
)

// Store implements coinledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger tables. Used by sqlite bootstrapping and tests;
// postgres schemas are owned by external migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &LedgerTransaction{}, &JournalEntry{}, &LegacyBalance{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coinledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		Where(Wallet{UserID: userID.String()}).
		Attrs(Wallet{Status: coinledger.WalletStatusActive.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, translateConcurrencyError(err))
	}
	return mapWallet(model)
}

func (store *Store) CreateWallet(ctx context.Context, userID coinledger.UserID) (coinledger.Wallet, error) {
	model := Wallet{
		UserID: userID.String(),
		Status: coinledger.WalletStatusActive.String(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDuplicate, coinledger.ErrWalletExists)
	}
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return mapWallet(model)
}

func (store *Store) WalletExists(ctx context.Context, userID coinledger.UserID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ?", userID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectWallet, errorCodeExists, err)
	}
	return count > 0, nil
}

func (store *Store) LockWallet(ctx context.Context, walletID coinledger.WalletID) (coinledger.Wallet, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no row locks and serializes writers on its own; FOR UPDATE
	// is a syntax error there.
	if store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Wallet
	err := query.
		Where("wallet_id = ?", walletID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, coinledger.ErrWalletNotFound)
		}
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, translateConcurrencyError(err))
	}
	return mapWallet(model)
}

func (store *Store) UpdateWalletBalance(ctx context.Context, walletID coinledger.WalletID, balance int64, availableBalance int64) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("wallet_id = ?", walletID.String()).
		Updates(map[string]interface{}{
			"balance":           balance,
			"available_balance": availableBalance,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, translateConcurrencyError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, coinledger.ErrWalletNotFound)
	}
	return nil
}

func (store *Store) ListWallets(ctx context.Context) ([]coinledger.Wallet, error) {
	var rows []Wallet
	err := store.db.WithContext(ctx).
		Order("user_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	wallets := make([]coinledger.Wallet, 0, len(rows))
	for _, row := range rows {
		wallet, err := mapWallet(row)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	return wallets, nil
}

func (store *Store) CreateLedgerTransaction(ctx context.Context, transaction coinledger.LedgerTransaction) (coinledger.LedgerTransaction, error) {
	var externalRef *string
	if !transaction.ExternalRef.IsZero() {
		value := transaction.ExternalRef.String()
		externalRef = &value
	}
	model := LedgerTransaction{
		Type:            transaction.Type.String(),
		InitiatorUserID: transaction.InitiatorUserID.String(),
		Context:         contextJSON(transaction.Context.String()),
		ExternalRef:     externalRef,
		Status:          transaction.Status.String(),
		CreatedAt:       time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, coinledger.ErrDuplicateExternalRef)
	}
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeCreate, err)
	}
	return mapLedgerTransaction(model)
}

func (store *Store) CloseLedgerTransaction(ctx context.Context, transactionID coinledger.TransactionID, closedUnixUTC int64) error {
	closedAt := time.Unix(closedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Where("transaction_id = ? AND status = ?", transactionID.String(), coinledger.TransactionStatusPending.String()).
		Updates(map[string]interface{}{
			"status":    coinledger.TransactionStatusClosed.String(),
			"closed_at": closedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, coinledger.ErrTransactionNotFound)
	}
	return nil
}

func (store *Store) FindTransactionByExternalRef(ctx context.Context, ref coinledger.ExternalRef) (coinledger.LedgerTransaction, bool, error) {
	var model LedgerTransaction
	err := store.db.WithContext(ctx).
		Where("external_ref = ?", ref.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coinledger.LedgerTransaction{}, false, nil
	}
	if err != nil {
		return coinledger.LedgerTransaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapLedgerTransaction(model)
	if err != nil {
		return coinledger.LedgerTransaction{}, false, err
	}
	return transaction, true, nil
}

func (store *Store) HasTransactionByInitiator(ctx context.Context, transactionType coinledger.TransactionType, initiatorUserID coinledger.UserID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Where("type = ? AND initiator_user_id = ?", transactionType.String(), initiatorUserID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) InsertJournalEntry(ctx context.Context, entry coinledger.JournalEntry) error {
	model := JournalEntry{
		TransactionID: entry.TransactionID.String(),
		WalletID:      entry.WalletID.String(),
		Direction:     entry.Direction.String(),
		Amount:        entry.Amount.Int64(),
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		Memo:          entry.Memo,
		CreatedAt:     time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListJournalEntries(ctx context.Context, walletID coinledger.WalletID, limit int) ([]coinledger.JournalEntry, error) {
	var rows []JournalEntry
	err := store.db.WithContext(ctx).
		Where("wallet_id = ?", walletID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	entries := make([]coinledger.JournalEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapJournalEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) SumJournalAmounts(ctx context.Context, walletID coinledger.WalletID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Select("coalesce(sum(case when direction = ? then amount else -amount end),0) as total", coinledger.DirectionCredit.String()).
		Where("wallet_id = ?", walletID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectJournal, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) ListLegacyBalances(ctx context.Context) ([]coinledger.LegacyBalance, error) {
	var rows []LegacyBalance
	err := store.db.WithContext(ctx).
		Order("user_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLegacy, errorCodeList, err)
	}
	balances := make([]coinledger.LegacyBalance, 0, len(rows))
	for _, row := range rows {
		userID, err := coinledger.NewUserID(row.UserID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLegacy, errorCodeInvalid, err)
		}
		balances = append(balances, coinledger.LegacyBalance{UserID: userID, Balance: row.Balance})
	}
	return balances, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return coinledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapWallet(row Wallet) (coinledger.Wallet, error) {
	walletID, err := coinledger.NewWalletID(row.WalletID)
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	userID, err := coinledger.NewUserID(row.UserID)
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	status, err := coinledger.ParseWalletStatus(row.Status)
	if err != nil {
		return coinledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return coinledger.Wallet{
		WalletID:         walletID,
		UserID:           userID,
		Balance:          row.Balance,
		AvailableBalance: row.AvailableBalance,
		Status:           status,
	}, nil
}

func mapLedgerTransaction(row LedgerTransaction) (coinledger.LedgerTransaction, error) {
	transactionID, err := coinledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	transactionType, err := coinledger.ParseTransactionType(row.Type)
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	initiatorUserID, err := coinledger.NewUserID(row.InitiatorUserID)
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	status, err := coinledger.ParseTransactionStatus(row.Status)
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	contextValue, err := coinledger.NewContextJSON(string(row.Context))
	if err != nil {
		return coinledger.LedgerTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	var externalRef coinledger.ExternalRef
	if row.ExternalRef != nil {
		externalRef = coinledger.NewExternalRef(*row.ExternalRef)
	}
	return coinledger.LedgerTransaction{
		TransactionID:   transactionID,
		Type:            transactionType,
		InitiatorUserID: initiatorUserID,
		Context:         contextValue,
		ExternalRef:     externalRef,
		Status:          status,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
		ClosedUnixUTC:   timeOrZero(row.ClosedAt),
	}, nil
}

func mapJournalEntry(row JournalEntry) (coinledger.JournalEntry, error) {
	transactionID, err := coinledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return coinledger.JournalEntry{}, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
	}
	walletID, err := coinledger.NewWalletID(row.WalletID)
	if err != nil {
		return coinledger.JournalEntry{}, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
	}
	direction, err := coinledger.ParseDirection(row.Direction)
	if err != nil {
		return coinledger.JournalEntry{}, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
	}
	amount, err := coinledger.NewAmountCoins(row.Amount)
	if err != nil {
		return coinledger.JournalEntry{}, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
	}
	return coinledger.JournalEntry{
		EntryID:        row.EntryID,
		TransactionID:  transactionID,
		WalletID:       walletID,
		Direction:      direction,
		Amount:         amount,
		BalanceBefore:  row.BalanceBefore,
		BalanceAfter:   row.BalanceAfter,
		Memo:           row.Memo,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func contextJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultContextJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
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
