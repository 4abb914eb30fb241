package cleanup

import (
	"context"
	"time"

	"stock-service/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ReservationCleanup переводит истёкшие резервы в терминальное состояние expired.
// На доступный остаток это не влияет: истёкшие строки и так не учитываются.
type ReservationCleanup struct {
	repo      *repository.Repository
	log       *zap.Logger
	batchSize int
	now       func() time.Time
	swept     prometheus.Counter
}

func NewReservationCleanup(repo *repository.Repository, batchSize int, log *zap.Logger) *ReservationCleanup {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ReservationCleanup{
		repo:      repo,
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_reservations_expired_total",
			Help: "Reservations marked expired by the sweeper.",
		}),
	}
}

// Register регистрирует счётчик обработанных строк.
func (c *ReservationCleanup) Register(reg prometheus.Registerer) error {
	return reg.Register(c.swept)
}

// SweepExpired помечает истёкшие резервы пачками, пока не выберет все на момент запуска.
func (c *ReservationCleanup) SweepExpired(ctx context.Context) (int64, error) {
	now := c.now()
	var total int64
	for {
		n, err := c.repo.Reservations.SweepExpired(ctx, now, c.batchSize)
		if err != nil {
			c.log.Error("failed to sweep expired reservations", zap.Error(err), zap.Int64("swept", total))
			return total, err
		}
		total += n
		c.swept.Add(float64(n))
		if n < int64(c.batchSize) || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		c.log.Info("swept expired reservations", zap.Int64("count", total))
	}
	return total, nil
}
