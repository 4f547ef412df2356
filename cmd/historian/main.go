// cmd/historian/main.go pops settlement events from the Redis queue and persists them to
// the settlement_log table in PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/config"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Env == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("migrate database")
	}

	rc, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.SettlementQueueName)
	if err != nil {
		logger.WithError(err).Fatal("connect redis")
	}
	defer rc.Close()

	logger.WithFields(logrus.Fields{
		"queue":      cfg.SettlementQueueName,
		"batch_size": cfg.HistorianBatchSize,
		"flush":      cfg.HistorianFlush,
	}).Info("pencilparty-historian service starting")

	historian.New(rc, pg, cfg.HistorianBatchSize, cfg.HistorianFlush, logger).Run(ctx)
	logger.Info("pencilparty-historian shut down")
}
