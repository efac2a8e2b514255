/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Configure logging
  3. Initialize SQLite store
  4. Create the tracker service and the background scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (PORT, default: 8080)
  -db      SQLite database path (DB_PATH, default: ./data/budget.db)
           Use ":memory:" for in-memory database
  -no-scheduler
           Disable the background job (SCHEDULER_ENABLED=false)

ENVIRONMENT:
  See config/config.go. Notable keys: TIMEZONE, FIRST_WEEKDAY,
  ROLLOVER_MODE, CRON_SCHEDULE, LOG_LEVEL, LOG_FORMAT, CORS_ORIGINS.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Wait for a running scheduler job
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/budget.db"

  # Run with in-memory database on another port
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background job
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/walletwise/budget-engine/api"
	"github.com/walletwise/budget-engine/config"
	"github.com/walletwise/budget-engine/store/sqlite"
	"github.com/walletwise/budget-engine/tracker"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	noScheduler := flag.Bool("no-scheduler", !cfg.Scheduler.Enabled, "Disable the background job")
	flag.Parse()
	cfg.Server.Port = *port
	cfg.Database.Path = *dbPath
	cfg.Scheduler.Enabled = !*noScheduler

	logger.SetLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			logger.Fatalf("Failed to create database directory: %v", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLocation(cfg.Locale.Location))
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	svc := tracker.NewService(store, logger, tracker.Options{
		Location:     cfg.Locale.Location,
		FirstWeekday: cfg.Locale.FirstWeekday,
		RolloverMode: cfg.Budget.RolloverMode,
	})

	scheduler := api.NewScheduler(svc, store, logger, cfg.Scheduler.Cron)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(cfg.Scheduler.RunOnStart); err != nil {
			logger.Fatalf("Failed to start scheduler: %v", err)
		}
	} else {
		logger.Info("scheduler disabled")
	}

	// Create router
	router := api.NewRouter(api.NewHandler(svc, scheduler, logger), cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"db":       cfg.Database.Path,
			"timezone": cfg.Locale.Location.String(),
			"env":      cfg.Env,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	scheduler.Stop()

	logger.Info("server stopped")
}
