package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ThresholdNotifier получает новый уровень остатка после каждого списания.
// Решение, поднимать ли тревогу, принимает реализация.
type ThresholdNotifier interface {
	NotifyStockLevel(ctx context.Context, productID uuid.UUID, newStock, threshold int32) error
}

type LowStockAlert struct {
	ProductID uuid.UUID `json:"product_id"`
	Stock     int32     `json:"stock"`
	Threshold int32     `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
}

func IsLow(newStock, threshold int32) bool { return newStock <= threshold }

// LogNotifier пишет предупреждение в лог, если остаток на пороге или ниже.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) NotifyStockLevel(_ context.Context, productID uuid.UUID, newStock, threshold int32) error {
	if !IsLow(newStock, threshold) {
		return nil
	}
	n.log.Warn("low stock",
		zap.String("product_id", productID.String()),
		zap.Int32("stock", newStock),
		zap.Int32("threshold", threshold),
	)
	return nil
}

// Multi вызывает все уведомители и собирает ошибки.
type Multi []ThresholdNotifier

func (m Multi) NotifyStockLevel(ctx context.Context, productID uuid.UUID, newStock, threshold int32) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStockLevel(ctx, productID, newStock, threshold); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
