package coinledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrUnbalancedTransaction    = errors.New("postings do not sum to zero")
	ErrEmptyPostings            = errors.New("transaction has no postings")
	ErrWalletNotFound           = errors.New("wallet not found")
	ErrWalletExists             = errors.New("wallet already exists")
	ErrWalletNotActive          = errors.New("wallet not active")
	ErrTransactionNotFound      = errors.New("ledger transaction not found")
	ErrDuplicateExternalRef     = errors.New("duplicate external reference")
	ErrUnsupportedOperation     = errors.New("operation not supported by this store")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidWalletID          = errors.New("invalid wallet id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidAmountCoins       = errors.New("invalid amount coins")
	ErrInvalidDirection         = errors.New("invalid direction")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidWalletStatus      = errors.New("invalid wallet status")
	ErrInvalidContextJSON       = errors.New("invalid context json")
	ErrInvalidPosting           = errors.New("invalid posting")
	ErrInvalidLimit             = errors.New("invalid limit")
	ErrInvalidServiceConfig     = errors.New("invalid service config")

	// ErrSerializationConflict marks lock wait timeouts and deadlocks
	// surfaced by the underlying store.
	ErrSerializationConflict = errors.New("serialization conflict")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRetryable reports whether the error is a transient concurrency
// conflict the caller may retry (deduplicating via ExternalRef).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationConflict)
}
