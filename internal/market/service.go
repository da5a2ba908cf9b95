// Package market holds the thin marketplace flows that move coins.
// They own the business rules (commission split, reward amounts,
// withdrawal minimum) but no wallet-mutation logic: every flow builds
// a balanced posting list and hands it to the ledger engine.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantbazaar/coinledger/pkg/coinledger"
)

const (
	platformCommissionPercent = 10

	contentPublishReward = 50
	threadCreationReward = 10
	replyReward          = 2
	signupBonus          = 100

	minimumWithdrawal = 100

	contextKeyContentID = "content_id"
	contextKeyThreadID  = "thread_id"
	contextKeyReplyID   = "reply_id"
)

// Flow-level error values.
var (
	ErrInvalidPrice           = errors.New("invalid price")
	ErrSelfPurchase           = errors.New("buyer and seller are the same user")
	ErrBelowMinimumWithdrawal = errors.New("withdrawal below minimum")
)

// Service assembles balanced posting lists for the marketplace flows.
type Service struct {
	ledger *coinledger.Service
}

// NewService wires the marketplace flows over the ledger engine.
func NewService(ledger *coinledger.Service) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", coinledger.ErrInvalidServiceConfig)
	}
	return &Service{ledger: ledger}, nil
}

// PurchaseContent debits the buyer for the full price and splits the
// proceeds 90/10 between the seller and the platform wallet.
func (service *Service) PurchaseContent(ctx context.Context, buyerUserID, sellerUserID coinledger.UserID, contentID string, price int64, externalRef coinledger.ExternalRef) (coinledger.LedgerTransaction, error) {
	if price <= 0 {
		return coinledger.LedgerTransaction{}, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	if buyerUserID == sellerUserID {
		return coinledger.LedgerTransaction{}, ErrSelfPurchase
	}
	platformFee := price * platformCommissionPercent / 100
	sellerProceeds := price - platformFee

	priceAmount, err := coinledger.NewAmountCoins(price)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	buyerDebit, err := coinledger.NewPosting(buyerUserID, coinledger.DirectionDebit, priceAmount, "content purchase")
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	postings := []coinledger.Posting{buyerDebit}

	sellerAmount, err := coinledger.NewAmountCoins(sellerProceeds)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	sellerCredit, err := coinledger.NewPosting(sellerUserID, coinledger.DirectionCredit, sellerAmount, "content sale proceeds")
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	postings = append(postings, sellerCredit)

	if platformFee > 0 {
		feeAmount, err := coinledger.NewAmountCoins(platformFee)
		if err != nil {
			return coinledger.LedgerTransaction{}, err
		}
		feeCredit, err := coinledger.NewPosting(coinledger.PlatformUserID(), coinledger.DirectionCredit, feeAmount, "platform commission")
		if err != nil {
			return coinledger.LedgerTransaction{}, err
		}
		postings = append(postings, feeCredit)
	}

	contextJSON, err := coinledger.ContextFromPairs(map[string]string{contextKeyContentID: contentID})
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	return service.ledger.BeginLedgerTransaction(ctx, coinledger.TransactionPurchase, buyerUserID, postings, contextJSON, externalRef)
}

// RewardContentPublish credits the author for publishing a strategy,
// debiting the platform wallet.
func (service *Service) RewardContentPublish(ctx context.Context, authorUserID coinledger.UserID, contentID string) (coinledger.LedgerTransaction, error) {
	return service.grantReward(ctx, coinledger.TransactionEarn, authorUserID, contentPublishReward, "content publish reward",
		map[string]string{contextKeyContentID: contentID},
		coinledger.NewExternalRef("publish-reward:"+contentID))
}

// RewardThreadCreation credits the author for opening a discussion thread.
func (service *Service) RewardThreadCreation(ctx context.Context, authorUserID coinledger.UserID, threadID string) (coinledger.LedgerTransaction, error) {
	return service.grantReward(ctx, coinledger.TransactionThreadCreation, authorUserID, threadCreationReward, "thread creation reward",
		map[string]string{contextKeyThreadID: threadID},
		coinledger.NewExternalRef("thread-reward:"+threadID))
}

// RewardReply credits the author of a reply.
func (service *Service) RewardReply(ctx context.Context, authorUserID coinledger.UserID, replyID string) (coinledger.LedgerTransaction, error) {
	return service.grantReward(ctx, coinledger.TransactionReplyReward, authorUserID, replyReward, "reply reward",
		map[string]string{contextKeyReplyID: replyID},
		coinledger.NewExternalRef("reply-reward:"+replyID))
}

// GrantSignupBonus seeds a new user's wallet once; the user id keys the
// external reference so re-sends cannot double-credit.
func (service *Service) GrantSignupBonus(ctx context.Context, userID coinledger.UserID) (coinledger.LedgerTransaction, error) {
	return service.grantReward(ctx, coinledger.TransactionSignupBonus, userID, signupBonus, "signup bonus",
		nil,
		coinledger.NewExternalRef("signup-bonus:"+userID.String()))
}

// Withdraw debits the user's wallet back to the platform wallet.
func (service *Service) Withdraw(ctx context.Context, userID coinledger.UserID, amount int64, externalRef coinledger.ExternalRef) (coinledger.LedgerTransaction, error) {
	if amount < minimumWithdrawal {
		return coinledger.LedgerTransaction{}, fmt.Errorf("%w: %d < %d", ErrBelowMinimumWithdrawal, amount, minimumWithdrawal)
	}
	withdrawal, err := coinledger.NewAmountCoins(amount)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	userDebit, err := coinledger.NewPosting(userID, coinledger.DirectionDebit, withdrawal, "withdrawal")
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	platformCredit, err := coinledger.NewPosting(coinledger.PlatformUserID(), coinledger.DirectionCredit, withdrawal, "withdrawal settlement")
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	contextJSON, err := coinledger.ContextFromPairs(nil)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	return service.ledger.BeginLedgerTransaction(ctx, coinledger.TransactionWithdrawal, userID, []coinledger.Posting{userDebit, platformCredit}, contextJSON, externalRef)
}

func (service *Service) grantReward(ctx context.Context, transactionType coinledger.TransactionType, userID coinledger.UserID, amount int64, memo string, contextPairs map[string]string, externalRef coinledger.ExternalRef) (coinledger.LedgerTransaction, error) {
	rewardAmount, err := coinledger.NewAmountCoins(amount)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	userCredit, err := coinledger.NewPosting(userID, coinledger.DirectionCredit, rewardAmount, memo)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	platformDebit, err := coinledger.NewPosting(coinledger.PlatformUserID(), coinledger.DirectionDebit, rewardAmount, memo)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	contextJSON, err := coinledger.ContextFromPairs(contextPairs)
	if err != nil {
		return coinledger.LedgerTransaction{}, err
	}
	return service.ledger.BeginLedgerTransaction(ctx, transactionType, userID, []coinledger.Posting{userCredit, platformDebit}, contextJSON, externalRef)
}
