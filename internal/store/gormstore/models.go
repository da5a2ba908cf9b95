package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents the wallets table.
type Wallet struct {
	WalletID         string    `gorm:"type:uuid;primaryKey"`
	UserID           string    `gorm:"not null;index:uniq_wallets_user,unique"`
	Balance          int64     `gorm:"not null"`
	AvailableBalance int64     `gorm:"not null"`
	Status           string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.WalletID == "" {
		wallet.WalletID = uuid.NewString()
	}
	return nil
}

// LedgerTransaction mirrors the ledger_transactions table.
type LedgerTransaction struct {
	TransactionID   string         `gorm:"type:uuid;primaryKey"`
	Type            string         `gorm:"not null;index:idx_ledger_transactions_type_initiator,priority:1"`
	InitiatorUserID string         `gorm:"not null;index:idx_ledger_transactions_type_initiator,priority:2"`
	Context         datatypes.JSON `gorm:"not null"`
	ExternalRef     *string        `gorm:"index:uniq_ledger_transactions_external_ref,unique"`
	Status          string         `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
	ClosedAt        *time.Time     `gorm:""`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

func (transaction *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// JournalEntry mirrors the journal_entries table.
type JournalEntry struct {
	EntryID       string    `gorm:"type:uuid;primaryKey"`
	TransactionID string    `gorm:"type:uuid;not null;index:idx_journal_transaction"`
	WalletID      string    `gorm:"type:uuid;not null;index:idx_journal_wallet_created,priority:1"`
	Direction     string    `gorm:"not null"`
	Amount        int64     `gorm:"not null"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	Memo          string    `gorm:""`
	CreatedAt     time.Time `gorm:"not null;index:idx_journal_wallet_created,priority:2"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

func (entry *JournalEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// LegacyBalance mirrors the pre-ledger user balance column consumed by
// the opening-balance migration.
type LegacyBalance struct {
	UserID  string `gorm:"primaryKey"`
	Balance int64  `gorm:"not null"`
}

func (LegacyBalance) TableName() string { return "legacy_balances" }
