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

	"github.com/aurora-is-near/aurora-forwarder/internal/api"
	"github.com/aurora-is-near/aurora-forwarder/internal/bridge"
	"github.com/aurora-is-near/aurora-forwarder/internal/config"
	"github.com/aurora-is-near/aurora-forwarder/internal/database"
	"github.com/aurora-is-near/aurora-forwarder/internal/factory"
	"github.com/aurora-is-near/aurora-forwarder/internal/forwarder"
	"github.com/aurora-is-near/aurora-forwarder/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Aurora Forwarder Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store),
		zap.String("factory_account", cfg.Factory.Account),
		zap.Uint32("default_fee_bps", cfg.Factory.DefaultFeeBps))

	// Pick the persistence backend
	var (
		registry factory.Registry
		store    forwarder.Store
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err := database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		logger.Info("Database connected successfully")

		migrationPath := "internal/database/migrations/001_schema.sql"
		if err := database.RunMigrations(db, migrationPath); err != nil {
			logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
		} else {
			logger.Info("Database migrations applied successfully")
		}

		registry = db.Registry()
		store = db.Forwarders()
	case config.StoreMemory:
		logger.Warn("Using in-memory store; state is lost on restart")
		registry = factory.NewMemoryRegistry()
		store = forwarder.NewMemoryStore()
	}

	// Token ledger and bridge. Both are in-process simulators until the
	// NEP-141 and Rainbow Bridge clients land.
	ledger := bridge.NewFakeToken()
	br := bridge.NewFakeBridge(ledger, cfg.Bridge.AutoSettle)

	// Initialize services
	forwarders := forwarder.NewService(store, ledger, br, logger)
	f := factory.New(cfg.Factory.Account, cfg.Factory.SupportedTokens, registry, forwarders, logger)

	logger.Info("Services initialized")

	// Initialize API handlers
	apiHandler := api.NewHandler(f, forwarders, cfg.Factory.DefaultFeeBps, logger)
	router := api.SetupRouter(apiHandler, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Start the settlement worker
	settler := worker.NewSettler(forwarders, store, br, cfg.Bridge.PollInterval, logger)
	settler.Start()
	logger.Info("Settlement worker started",
		zap.Duration("poll_interval", cfg.Bridge.PollInterval))

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the settler first so no outcome lands mid-shutdown
	if err := settler.Shutdown(10 * time.Second); err != nil {
		logger.Error("Settler shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
