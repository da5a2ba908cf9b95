package coinledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Service is the ledger transaction engine. It is the only writer of
// wallets and the journal; every coin movement funnels through
// BeginLedgerTransaction.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetWallet resolves a user to their wallet, provisioning a zero-balance
// active wallet on first lookup.
func (service *Service) GetWallet(ctx context.Context, userID UserID) (Wallet, error) {
	if userID.IsZero() {
		return Wallet{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	wallet, err := service.store.GetOrCreateWallet(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation:       operationGetWallet,
		InitiatorUserID: userID,
		Error:           err,
	})
	return wallet, err
}

// BeginLedgerTransaction applies a balanced set of postings as one atomic
// unit. Wallets are locked in wallet-id order so that two transactions
// touching the same pair of wallets cannot deadlock. If the external
// reference matches an already-closed transaction, that transaction is
// returned unchanged and no postings are written.
func (service *Service) BeginLedgerTransaction(
	ctx context.Context,
	transactionType TransactionType,
	initiatorUserID UserID,
	postings []Posting,
	contextJSON ContextJSON,
	externalRef ExternalRef,
) (LedgerTransaction, error) {
	var result LedgerTransaction
	operationError := func() error {
		if _, err := ParseTransactionType(transactionType.String()); err != nil {
			return err
		}
		if initiatorUserID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		if err := validatePostings(postings); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if !externalRef.IsZero() {
				existing, found, err := transactionStore.FindTransactionByExternalRef(ctx, externalRef)
				if err != nil {
					return err
				}
				if found {
					result = existing
					return nil
				}
			}
			created, err := transactionStore.CreateLedgerTransaction(ctx, LedgerTransaction{
				Type:            transactionType,
				InitiatorUserID: initiatorUserID,
				Context:         contextJSON,
				ExternalRef:     externalRef,
				Status:          TransactionStatusPending,
				CreatedUnixUTC:  service.nowFn(),
			})
			if err != nil {
				return err
			}
			ordered, err := service.resolvePostingWallets(ctx, transactionStore, postings)
			if err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			for _, resolved := range ordered {
				if err := service.applyPosting(ctx, transactionStore, created.TransactionID, resolved, nowUnixUTC); err != nil {
					return err
				}
			}
			if err := transactionStore.CloseLedgerTransaction(ctx, created.TransactionID, nowUnixUTC); err != nil {
				return err
			}
			created.Status = TransactionStatusClosed
			created.ClosedUnixUTC = nowUnixUTC
			result = created
			return nil
		})
	}()
	if errors.Is(operationError, ErrDuplicateExternalRef) && !externalRef.IsZero() {
		// Lost the insert race on the unique external_ref index: the
		// transaction was already applied by a concurrent call.
		existing, found, lookupErr := service.store.FindTransactionByExternalRef(ctx, externalRef)
		if lookupErr == nil && found {
			result = existing
			operationError = nil
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:       operationBeginTransaction,
		TransactionType: transactionType,
		InitiatorUserID: initiatorUserID,
		TransactionID:   result.TransactionID,
		PostingCount:    len(postings),
		ExternalRef:     externalRef,
		Error:           operationError,
	})
	if operationError != nil {
		return LedgerTransaction{}, operationError
	}
	return result, nil
}

type resolvedPosting struct {
	posting Posting
	wallet  Wallet
}

// resolvePostingWallets provisions every touched wallet before any lock is
// taken, so the lock pass can run in stable wallet-id order.
func (service *Service) resolvePostingWallets(ctx context.Context, transactionStore Store, postings []Posting) ([]resolvedPosting, error) {
	walletsByUser := make(map[string]Wallet, len(postings))
	for _, posting := range postings {
		if _, seen := walletsByUser[posting.UserID.String()]; seen {
			continue
		}
		wallet, err := transactionStore.GetOrCreateWallet(ctx, posting.UserID)
		if err != nil {
			return nil, err
		}
		walletsByUser[posting.UserID.String()] = wallet
	}
	ordered := make([]resolvedPosting, 0, len(postings))
	for _, posting := range postings {
		ordered = append(ordered, resolvedPosting{
			posting: posting,
			wallet:  walletsByUser[posting.UserID.String()],
		})
	}
	sort.SliceStable(ordered, func(left, right int) bool {
		return ordered[left].wallet.WalletID.String() < ordered[right].wallet.WalletID.String()
	})
	return ordered, nil
}

func (service *Service) applyPosting(ctx context.Context, transactionStore Store, transactionID TransactionID, resolved resolvedPosting, nowUnixUTC int64) error {
	wallet, err := transactionStore.LockWallet(ctx, resolved.wallet.WalletID)
	if err != nil {
		return err
	}
	if wallet.Status != WalletStatusActive {
		return fmt.Errorf("%w: wallet %s is %s", ErrWalletNotActive, wallet.WalletID.String(), wallet.Status)
	}
	balanceBefore := wallet.Balance
	balanceAfter := balanceBefore + resolved.posting.SignedAmount()
	if balanceAfter < 0 && wallet.UserID != PlatformUserID() {
		return fmt.Errorf("%w: wallet %s balance %d, debit %d", ErrInsufficientBalance, wallet.WalletID.String(), balanceBefore, resolved.posting.Amount)
	}
	entry := JournalEntry{
		TransactionID:  transactionID,
		WalletID:       wallet.WalletID,
		Direction:      resolved.posting.Direction,
		Amount:         resolved.posting.Amount,
		BalanceBefore:  balanceBefore,
		BalanceAfter:   balanceAfter,
		Memo:           resolved.posting.Memo,
		CreatedUnixUTC: nowUnixUTC,
	}
	if err := transactionStore.InsertJournalEntry(ctx, entry); err != nil {
		return err
	}
	availableAfter := wallet.AvailableBalance + resolved.posting.SignedAmount()
	return transactionStore.UpdateWalletBalance(ctx, wallet.WalletID, balanceAfter, availableAfter)
}

// GetTransactionHistory returns the user's journal entries, newest first.
// Entries belonging to other wallets touched by the same transactions are
// never included.
func (service *Service) GetTransactionHistory(ctx context.Context, userID UserID, limit int) ([]JournalEntry, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, operationError := func() ([]JournalEntry, error) {
		wallet, err := service.store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
		return service.store.ListJournalEntries(ctx, wallet.WalletID, limit)
	}()
	service.logOperation(ctx, OperationLog{
		Operation:       operationHistory,
		InitiatorUserID: userID,
		Error:           operationError,
	})
	return entries, operationError
}

func validatePostings(postings []Posting) error {
	if len(postings) == 0 {
		return ErrEmptyPostings
	}
	var signedSum int64
	for _, posting := range postings {
		if posting.UserID.IsZero() {
			return fmt.Errorf("%w: missing user id", ErrInvalidPosting)
		}
		if _, err := ParseDirection(posting.Direction.String()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPosting, err)
		}
		if posting.Amount <= 0 {
			return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidPosting)
		}
		signedSum += posting.SignedAmount()
	}
	if signedSum != 0 {
		return fmt.Errorf("%w: signed sum is %d", ErrUnbalancedTransaction, signedSum)
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
