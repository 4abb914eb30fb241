package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log.Named("stock")}
}

func (s *ZapSink) Emit(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("outcome", e.Outcome),
		zap.Int32("quantity", e.Quantity),
		zap.Int("lines", e.Lines),
	}
	if e.ClientOrderID != "" {
		fields = append(fields, zap.String("client_order_id", e.ClientOrderID))
	}
	if e.ProductID != uuid.Nil {
		fields = append(fields, zap.String("product_id", e.ProductID.String()))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	if e.Err != nil {
		s.log.Error("stock operation failed", append(fields, zap.Error(e.Err))...)
		return
	}
	s.log.Info("stock operation", fields...)
}
