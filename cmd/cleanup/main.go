package main

import (
	"context"
	"os"

	"stock-service/config"
	"stock-service/internal/cleanup"
	"stock-service/internal/pkg/database"
	"stock-service/internal/pkg/logger"
	"stock-service/internal/repository"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Разовый проход по истёкшим резервам, для cron вместо встроенного планировщика.
func main() {
	_ = godotenv.Load()

	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()
	cfg := config.Load(log)

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	sweeper := cleanup.NewReservationCleanup(repository.New(db), cfg.Cleanup.BatchSize, log)

	log.Info("running expired reservations sweep")
	n, err := sweeper.SweepExpired(context.Background())
	if err != nil {
		log.Fatal("failed to sweep expired reservations", zap.Error(err))
	}

	log.Info("cleanup completed successfully", zap.Int64("swept", n))
}
