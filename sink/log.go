package sink

import (
	"context"

	"github.com/warp/payment-reconciler/payments"
	"go.uber.org/zap"
)

// LogSink writes records to the log. Used when no NATS URL is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, record payments.WritebackRecord) error {
	s.logger.Info("writeback",
		zap.String("payment", record.PaymentID),
		zap.String("c", record.C),
		zap.String("i", record.I),
		zap.String("status", record.Status),
		zap.Bool("active", record.Active),
		zap.Time("timestamp", record.Timestamp),
	)
	return nil
}
