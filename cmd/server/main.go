package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/summarizer"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	dbURL := config.DatabaseURL()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	logger.Info("connected to warm tier database")

	warm := store.NewPostgres(pool, config.EmbeddingDim())
	if err := warm.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate warm tier", zap.Error(err))
	}

	hot := store.NewRedisFromAddr(config.RedisAddr())
	if err := hot.Ping(ctx); err != nil {
		// The hot tier is a cache; start degraded rather than refuse.
		logger.Warn("hot tier unreachable at startup", zap.Error(err))
	} else {
		logger.Info("connected to hot tier", zap.String("addr", config.RedisAddr()))
	}

	if err := os.MkdirAll(filepath.Dir(config.ColdDBPath()), 0o755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	cold, err := store.NewSQLite(config.ColdDBPath())
	if err != nil {
		logger.Fatal("failed to open cold tier", zap.Error(err))
	}
	defer func() { _ = cold.Close() }()

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.OpenAIAPIKey(), config.EmbeddingDim())
	if err != nil {
		logger.Fatal("failed to initialize embedding client", zap.Error(err))
	}
	logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))

	if err := os.MkdirAll(filepath.Dir(config.OverflowLogPath()), 0o755); err != nil {
		logger.Fatal("failed to create overflow directory", zap.Error(err))
	}
	overflow, err := service.NewOverflowLog(config.OverflowLogPath())
	if err != nil {
		logger.Fatal("failed to open overflow log", zap.Error(err))
	}

	app := api.NewApp(api.Backends{Hot: hot, Warm: warm, Cold: cold},
		embedder, summarizer.NewExtractive(), overflow, logger)

	app.Maintenance.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	app.Maintenance.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
