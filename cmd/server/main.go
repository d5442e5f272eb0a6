package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/example/minibank/internal/api"
	"github.com/example/minibank/internal/auth"
	"github.com/example/minibank/internal/config"
	"github.com/example/minibank/internal/events/kafka"
	"github.com/example/minibank/internal/ledger"
	"github.com/example/minibank/internal/security"
	"github.com/example/minibank/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var (
		store     ledger.Store
		userStore auth.UserStore
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = ledger.NewPostgresStore(pool)
		userStore = &auth.PostgresUserStore{Pool: pool}

	case config.DriverSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_txlock=immediate&_foreign_keys=on")
		if err != nil {
			logger.Error("failed to open sqlite database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := ledger.InitSQLiteSchema(context.Background(), db); err != nil {
			logger.Error("failed to init sqlite schema", "error", err)
			os.Exit(1)
		}
		store = ledger.NewSQLiteStore(db)
		userStore = &auth.SQLiteUserStore{DB: db}
	}

	keySet, err := loadOrGenerateKeys(cfg, logger)
	if err != nil {
		logger.Error("failed to load signing keys", "error", err)
		os.Exit(1)
	}

	authService := &auth.Service{
		Store:    userStore,
		Keys:     keySet,
		Issuer:   cfg.JWTIssuer,
		TokenTTL: cfg.TokenTTL,
	}

	engineOpts := []ledger.Option{ledger.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		engineOpts = append(engineOpts, ledger.WithPublisher(publisher))
		logger.Info("kafka event publishing enabled", "brokers", cfg.KafkaBrokers)
	}
	engine := ledger.NewEngine(store, engineOpts...)

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "minibank",
			Capacity:   cfg.RateLimitBurst,
			RefillRate: cfg.RateLimitPerSec,
		}
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting disabled")
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Auth:         authService,
		JWTValidator: &auth.JWTValidator{KeySet: keySet, Issuer: cfg.JWTIssuer},
		Ledger:       engine,
		Auditor:      audit.NewChainLogger(),
		RateLimiter:  rateLimiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("minibank listening", "addr", cfg.HTTPAddr, "driver", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func loadOrGenerateKeys(cfg *config.Config, logger *slog.Logger) (*auth.KeySet, error) {
	if cfg.SigningKeyFile == "" {
		logger.Warn("SIGNING_KEY_FILE not set, generating ephemeral signing key")
		return auth.NewKeySet()
	}
	pemData, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	return auth.LoadKeySet(pemData)
}
