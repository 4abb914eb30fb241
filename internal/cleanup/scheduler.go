package cleanup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	cleanup  *ReservationCleanup
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

func NewScheduler(cleanup *ReservationCleanup, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		cleanup:  cleanup,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает периодическую очистку истёкших резервов
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("starting reservation sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop останавливает планировщик и ждёт завершения текущего прохода
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping reservation sweeper")
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// сразу при старте
	if _, err := s.cleanup.SweepExpired(ctx); err != nil {
		s.log.Error("initial reservation sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if _, err := s.cleanup.SweepExpired(ctx); err != nil {
				s.log.Error("reservation sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			s.log.Info("reservation sweeper stopped")
			return
		case <-ctx.Done():
			s.log.Info("reservation sweeper cancelled")
			return
		}
	}
}

// RunOnceNow: один проход немедленно
func (s *Scheduler) RunOnceNow(ctx context.Context) (int64, error) {
	return s.cleanup.SweepExpired(ctx)
}
