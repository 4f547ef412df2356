// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/config"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/database/memory"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/handlers"
	"github.com/pencilparty/pencilparty/internal/jobs"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Env == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store database.Store
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		store = memory.New(database.DefaultGameTypes...)
	default:
		pg, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	}

	var issuer *auth.Issuer
	var err error
	if cfg.JWTSecret != "" {
		issuer, err = auth.NewHMACIssuer([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	} else {
		logger.Warn("JWT_SECRET not set; using an ephemeral signing key, sessions end on restart")
		issuer, err = auth.NewEphemeralIssuer(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if err != nil {
		return err
	}

	var rc *cache.Redis
	if cfg.RedisAddr != "" {
		if rc, err = cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.SettlementQueueName); err != nil {
			return err
		}
		defer rc.Close()
		logger.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		logger.Info("REDIS_ADDR not set; cache, settlement queue and popular-games job disabled")
	}

	// leaderboard.Cache and handlers.Cache must stay nil interfaces when Redis is off
	var boardCache leaderboard.Cache
	var catalogCache handlers.Cache
	if rc != nil {
		boardCache, catalogCache = rc, rc
	}

	board := leaderboard.NewService(store, boardCache, cfg.LeaderboardCacheTTL, logger)
	hub := leaderboard.NewHub(board, leaderboard.DefaultLimit, logger)

	engine := game.NewEngine(store, logger)
	if rc != nil {
		engine.OnSettled(func(ctx context.Context, ev models.SettlementEvent) {
			if err := rc.InvalidateLeaderboard(ctx, ev.GameType); err != nil {
				logger.WithError(err).WithField("game_type", ev.GameType).Warn("invalidate leaderboard cache")
			}
			if err := rc.PublishSettlement(ctx, ev); err != nil {
				logger.WithError(err).WithField("game_id", ev.GameID).Warn("publish settlement event")
			}
		})
	}
	engine.OnSettled(func(ctx context.Context, ev models.SettlementEvent) {
		hub.Notify(ctx, ev.GameType)
	})

	if rc != nil {
		sched, err := jobs.NewScheduler(logger)
		if err != nil {
			return err
		}
		warmer := &jobs.PopularWarmer{Source: store, Cache: rc, TTL: 2 * cfg.PopularRefreshInterval}
		if err := sched.Every("popular-games", cfg.PopularRefreshInterval, warmer.Run); err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				logger.WithError(err).Warn("scheduler shutdown")
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	if err := limiter.TrustProxies(cfg.TrustedProxies...); err != nil {
		return err
	}

	srv := &handlers.Server{
		Store:       store,
		Issuer:      issuer,
		Tracker:     game.NewTracker(store, engine, logger),
		Board:       board,
		Hub:         hub,
		Cache:       catalogCache,
		Limiter:     limiter,
		CatalogTTL:  time.Hour,
		CORSOrigins: cfg.CORSOrigins,
		Dev:         cfg.IsDevelopment(),
		Version:     version,
		Log:         logger,
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Port,
			"env":     cfg.Env,
			"store":   cfg.StoreDriver,
			"version": version,
		}).Info("server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
