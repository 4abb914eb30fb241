package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupNotifier пропускает не больше одной тревоги на товар за окно window.
// Окно держится в redis (SET NX EX), поэтому общее для всех реплик сервиса.
type DedupNotifier struct {
	next   ThresholdNotifier
	client redis.Cmdable
	window time.Duration
	log    *zap.Logger
}

func NewDedupNotifier(next ThresholdNotifier, client redis.Cmdable, window time.Duration, log *zap.Logger) *DedupNotifier {
	return &DedupNotifier{next: next, client: client, window: window, log: log}
}

func NewRedisClient(ctx context.Context, addr, password string, db int, log *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis connected successfully", zap.String("addr", addr))
	return rdb, nil
}

func dedupKey(productID uuid.UUID) string {
	return fmt.Sprintf("stock:lowalert:%s", productID)
}

func (d *DedupNotifier) NotifyStockLevel(ctx context.Context, productID uuid.UUID, newStock, threshold int32) error {
	if !IsLow(newStock, threshold) {
		return nil
	}

	first, err := d.client.SetNX(ctx, dedupKey(productID), newStock, d.window).Result()
	if err != nil {
		// redis недоступен: тревогу всё равно отправляем
		d.log.Warn("alert dedup unavailable", zap.String("product_id", productID.String()), zap.Error(err))
		return d.next.NotifyStockLevel(ctx, productID, newStock, threshold)
	}
	if !first {
		d.log.Debug("low stock alert suppressed", zap.String("product_id", productID.String()))
		return nil
	}
	if err := d.next.NotifyStockLevel(ctx, productID, newStock, threshold); err != nil {
		// тревога не ушла: окно освобождаем, следующая попытка должна пройти
		if delErr := d.client.Del(ctx, dedupKey(productID)).Err(); delErr != nil {
			d.log.Warn("failed to release alert dedup window", zap.String("product_id", productID.String()), zap.Error(delErr))
		}
		return err
	}
	return nil
}
