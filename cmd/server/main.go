/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy accounting server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create the accounting engine and API handler
  5. Start the cancellation sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port       HTTP server port (PORT, default: 8080)
  -db         SQLite database path (DB_PATH, default: accounting.db)
              Use ":memory:" for in-memory database
  -log-level  debug | info | warn | error (LOG_LEVEL, default: info)
  -sweep      Run the periodic cancellation sweep (SWEEP_ENABLED, default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (waits for an in-flight sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/accounting.db"
  ./server -db=":memory:" -log-level=debug
  SWEEP_INTERVAL=15m ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/api"
	"github.com/warp/policy-accounting/config"
	"github.com/warp/policy-accounting/logger"
	"github.com/warp/policy-accounting/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.BoolVar(&cfg.SweepEnabled, "sweep", cfg.SweepEnabled, "Run the periodic cancellation sweep")
	flag.Parse()

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.String("db", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	// Engine and handler
	engine := accounting.NewEngine(store, accounting.WithLogger(zl.Named("accounting")))
	handler := api.NewHandler(engine, zl.Named("api"))
	handler.Health = store

	sweeper := handler.Sweeper
	sweeper.Enabled = cfg.SweepEnabled
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Workers = cfg.SweepWorkers
	sweeper.Start()

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		zl.Info("Server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	zl.Info("Server stopped")
}
