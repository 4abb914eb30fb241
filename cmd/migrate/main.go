package main

import (
	"context"
	"os"

	"stock-service/config"
	"stock-service/internal/migrate"
	"stock-service/internal/pkg/database"
	"stock-service/internal/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)
	if cfg.DB.Driver != database.DriverPostgres {
		log.Fatal("Миграции поддерживаются только для PostgreSQL, схему MySQL ведите отдельно",
			zap.String("driver", cfg.DB.Driver))
	}

	db := database.ConnectDBForMigration(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	ctx := context.Background()

	opts := migrate.DefaultMigrateOptions()

	if err := migrate.MigrateStockDB(ctx, db, log, opts); err != nil {
		log.Fatal("Ошибка при выполнении миграции", zap.Error(err))
	}

	log.Info("Миграция успешно завершена")
}
