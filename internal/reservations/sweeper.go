package reservations

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper expires holds on a fixed interval until its context is cancelled
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(manager *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{manager: manager, interval: interval, logger: logger}
}

// Run blocks until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Reservation sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.manager.CleanupExpiredReservations(ctx)
	if err != nil {
		s.logger.Error("Scheduled sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Debug("Scheduled sweep finished", zap.Int("expired", count))
	}
}
