package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reservation-service/internal/app"
	"reservation-service/internal/config"
	"reservation-service/internal/reservations"
	"reservation-service/pkg/logger"

	"go.uber.org/zap"
)

// The sweeper runs the expiry sweep outside the API process, either once (for cron) or on a ticker.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg := config.Load()
	appLogger := logger.New(cfg.Environment)

	if err := run(cfg, appLogger, *once); err != nil {
		appLogger.Error("Sweeper failed", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
	_ = appLogger.Sync()
}

func run(cfg *config.Config, appLogger *zap.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer core.Close()

	if once {
		count, err := core.Manager.CleanupExpiredReservations(ctx)
		if err != nil {
			return err
		}
		appLogger.Info("Sweep finished", zap.Int("expired", count))
		return nil
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	reservations.NewSweeper(core.Manager, interval, appLogger).Run(ctx)
	return nil
}
