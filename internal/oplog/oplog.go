// Package oplog adapts the domain OperationLogger hook onto zap.
package oplog

import (
	"context"

	"github.com/quantbazaar/coinledger/pkg/coinledger"
	"go.uber.org/zap"
)

// ZapOperationLogger emits one structured log line per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires the adapter.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements coinledger.OperationLogger.
func (adapter *ZapOperationLogger) LogOperation(_ context.Context, entry coinledger.OperationLog) {
	if adapter.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.TransactionType != "" {
		fields = append(fields, zap.String("transaction_type", entry.TransactionType.String()))
	}
	if !entry.InitiatorUserID.IsZero() {
		fields = append(fields, zap.String("initiator_user_id", entry.InitiatorUserID.String()))
	}
	if entry.TransactionID.String() != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.PostingCount > 0 {
		fields = append(fields, zap.Int("posting_count", entry.PostingCount))
	}
	if !entry.ExternalRef.IsZero() {
		fields = append(fields, zap.String("external_ref", entry.ExternalRef.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("ledger operation failed", fields...)
		return
	}
	adapter.logger.Info("ledger operation", fields...)
}
