/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the godown billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml + GODOWN_* environment)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Load the crop rate book
  5. Build the view cache (redis or in-memory)
  6. Wire services and the API handler
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults (godown.db, rates.json, port 8080)
  ./server

  # Override via environment
  GODOWN_SERVER_PORT=3000 GODOWN_DATABASE_PATH=./data/godown.db ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/godown/billing-engine/api"
	"github.com/godown/billing-engine/cache"
	"github.com/godown/billing-engine/config"
	"github.com/godown/billing-engine/factory"
	"github.com/godown/billing-engine/service"
	"github.com/godown/billing-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	rates, err := factory.LoadRateBook(cfg.Rates.File)
	if err != nil {
		logger.Fatal("failed to load rate book", zap.String("file", cfg.Rates.File), zap.Error(err))
	}
	logger.Info("rate book loaded", zap.Strings("commodities", rates.Commodities()))

	viewCache := cache.NewFromConfig(cache.Config{
		Backend:  cfg.Cache.Backend,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	}, logger)

	notifier := &service.LogNotifier{Logger: logger}
	payments := service.NewPaymentService(store, store, notifier, viewCache, logger)
	outflows := service.NewBulkOutflowOrchestrator(store, rates, notifier, viewCache, logger)
	withdrawals := service.NewWithdrawalService(store, viewCache, logger)

	handler := api.NewHandler(store, payments, outflows, withdrawals, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SinglePerMinute: cfg.RateLimit.SinglePerMinute,
		BulkPerMinute:   cfg.RateLimit.BulkPerMinute,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
