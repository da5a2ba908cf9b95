package coinledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCoins is a strictly positive posting amount in whole coins.
type AmountCoins int64

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// WalletID identifies a wallet record.
type WalletID struct {
	value string
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// ExternalRef deduplicates transactions triggered by external events.
// The zero value means "no reference".
type ExternalRef struct {
	value string
}

// ContextJSON stores arbitrary audit metadata attached to a transaction.
type ContextJSON struct {
	value string
}

// Direction marks a posting as a debit or a credit.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// TransactionType is the closed set of transaction categories.
type TransactionType string

const (
	TransactionPurchase       TransactionType = "purchase"
	TransactionEarn           TransactionType = "earn"
	TransactionThreadCreation TransactionType = "thread_creation"
	TransactionReplyReward    TransactionType = "reply_reward"
	TransactionSignupBonus    TransactionType = "signup_bonus"
	TransactionWithdrawal     TransactionType = "withdrawal"
	TransactionOpeningBalance TransactionType = "opening_balance"
	TransactionAdjustment     TransactionType = "adjustment"
)

// TransactionStatus defines the ledger transaction lifecycle.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusClosed  TransactionStatus = "closed"
)

// WalletStatus defines the wallet lifecycle.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusSuspended WalletStatus = "suspended"
	WalletStatusClosed    WalletStatus = "closed"
)

// Posting is one signed amount applied to one user's wallet.
type Posting struct {
	UserID    UserID
	Direction Direction
	Amount    AmountCoins
	Memo      string
}

// Wallet is the per-user balance record.
type Wallet struct {
	WalletID         WalletID
	UserID           UserID
	Balance          int64
	AvailableBalance int64
	Status           WalletStatus
}

// LedgerTransaction is an atomic group of postings that nets to zero.
type LedgerTransaction struct {
	TransactionID   TransactionID
	Type            TransactionType
	InitiatorUserID UserID
	Context         ContextJSON
	ExternalRef     ExternalRef
	Status          TransactionStatus
	CreatedUnixUTC  int64
	ClosedUnixUTC   int64
}

// JournalEntry is a single immutable line in the journal.
type JournalEntry struct {
	EntryID        string
	TransactionID  TransactionID
	WalletID       WalletID
	Direction      Direction
	Amount         AmountCoins
	BalanceBefore  int64
	BalanceAfter   int64
	Memo           string
	CreatedUnixUTC int64
}

// LegacyBalance is one row of the pre-ledger single-column balance table.
type LegacyBalance struct {
	UserID  UserID
	Balance int64
}

const platformUserIDValue = "platform"

// PlatformUserID returns the identity of the system wallet that acts as
// counterparty for rewards, withdrawals, and opening balances.
func PlatformUserID() UserID {
	return UserID{value: platformUserIDValue}
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewExternalRef normalizes an external reference. Empty input yields the
// zero value, meaning the transaction carries no reference.
func NewExternalRef(raw string) ExternalRef {
	return ExternalRef{value: strings.TrimSpace(raw)}
}

// String returns the normalized reference.
func (ref ExternalRef) String() string {
	return ref.value
}

// IsZero reports whether the reference is unset.
func (ref ExternalRef) IsZero() bool {
	return ref.value == ""
}

// NewContextJSON validates context metadata (defaulting to "{}" for empty inputs).
func NewContextJSON(raw string) (ContextJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return ContextJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidContextJSON)
	}
	return ContextJSON{value: normalized}, nil
}

// ContextFromPairs builds context metadata from string key/value pairs.
func ContextFromPairs(pairs map[string]string) (ContextJSON, error) {
	if len(pairs) == 0 {
		return NewContextJSON("")
	}
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return ContextJSON{}, fmt.Errorf("%w: %v", ErrInvalidContextJSON, err)
	}
	return ContextJSON{value: string(encoded)}, nil
}

// String returns the normalized JSON blob.
func (contextJSON ContextJSON) String() string {
	if contextJSON.value == "" {
		return "{}"
	}
	return contextJSON.value
}

// NewAmountCoins validates an amount and ensures it is strictly positive.
func NewAmountCoins(raw int64) (AmountCoins, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCoins)
	}
	return AmountCoins(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountCoins) Int64() int64 {
	return int64(amount)
}

// ParseDirection validates a stored direction value.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionDebit, DirectionCredit:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
}

// String returns the stored representation.
func (direction Direction) String() string {
	return string(direction)
}

// ParseTransactionType validates a stored transaction type value.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionPurchase, TransactionEarn, TransactionThreadCreation,
		TransactionReplyReward, TransactionSignupBonus, TransactionWithdrawal,
		TransactionOpeningBalance, TransactionAdjustment:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionStatus validates a stored transaction status value.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionStatusPending, TransactionStatusClosed:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// ParseWalletStatus validates a stored wallet status value.
func ParseWalletStatus(raw string) (WalletStatus, error) {
	switch WalletStatus(raw) {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusClosed:
		return WalletStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWalletStatus, raw)
}

// String returns the stored representation.
func (status WalletStatus) String() string {
	return string(status)
}

// NewPosting validates one posting line.
func NewPosting(userID UserID, direction Direction, amount AmountCoins, memo string) (Posting, error) {
	if userID.IsZero() {
		return Posting{}, fmt.Errorf("%w: missing user id", ErrInvalidPosting)
	}
	if _, err := ParseDirection(direction.String()); err != nil {
		return Posting{}, fmt.Errorf("%w: %v", ErrInvalidPosting, err)
	}
	if amount <= 0 {
		return Posting{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidPosting)
	}
	return Posting{
		UserID:    userID,
		Direction: direction,
		Amount:    amount,
		Memo:      strings.TrimSpace(memo),
	}, nil
}

// SignedAmount interprets the posting as credit = +amount, debit = -amount.
func (posting Posting) SignedAmount() int64 {
	if posting.Direction == DirectionDebit {
		return -posting.Amount.Int64()
	}
	return posting.Amount.Int64()
}

// Store is the persistence contract used by Service.
// (gormstore and pgstore implement this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error)
	CreateWallet(ctx context.Context, userID UserID) (Wallet, error)
	WalletExists(ctx context.Context, userID UserID) (bool, error)
	LockWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID WalletID, balance int64, availableBalance int64) error
	ListWallets(ctx context.Context) ([]Wallet, error)
	CreateLedgerTransaction(ctx context.Context, transaction LedgerTransaction) (LedgerTransaction, error)
	CloseLedgerTransaction(ctx context.Context, transactionID TransactionID, closedUnixUTC int64) error
	FindTransactionByExternalRef(ctx context.Context, ref ExternalRef) (LedgerTransaction, bool, error)
	HasTransactionByInitiator(ctx context.Context, transactionType TransactionType, initiatorUserID UserID) (bool, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) error
	ListJournalEntries(ctx context.Context, walletID WalletID, limit int) ([]JournalEntry, error)
	SumJournalAmounts(ctx context.Context, walletID WalletID) (int64, error)
	ListLegacyBalances(ctx context.Context) ([]LegacyBalance, error)
}
