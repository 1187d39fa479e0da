/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the daily sales report server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Open the store (SQLite or MySQL) and migrate the schema
  3. Pick the ingestion locker (Redis when REDIS_ADDRESS is set)
  4. Build the ingestion runner, metrics engine and API handler
  5. Start the directory ingestion scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      Database DSN (overrides DB_DSN)
           Use ":memory:" for an in-memory SQLite database
  -demo    Mount the demo dataset routes

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the ingestion scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/dsr.db"

  # Run against MySQL
  DB_DRIVER=mysql DB_DSN="mysql://dsr:secret@db:3306/dsr" ./server

  # Run on different port with demo datasets
  ./server -port=3000 -demo

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/warp/retail-dsr/api"
	"github.com/warp/retail-dsr/config"
	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/metrics"
	"github.com/warp/retail-dsr/reporting"
	"github.com/warp/retail-dsr/sales"
	"github.com/warp/retail-dsr/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dsn := flag.String("db", cfg.Database.DSN, "Database DSN")
	demo := flag.Bool("demo", cfg.Security.EnableDemoRoutes, "Enable demo dataset routes")
	flag.Parse()

	logger := config.NewLogger(cfg.Logger, os.Stdout)
	log := config.Component(logger, "server")

	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, *dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()
	log.WithField("dialect", store.Dialect()).Info("database ready")

	locker, err := newLocker(cfg.Ingestion, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize ingestion lock")
	}

	for _, dir := range []string{cfg.Ingestion.InputDir, cfg.Ingestion.ArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithError(err).WithField("dir", dir).Fatal("failed to create data directory")
		}
	}

	whatsapp := sales.NewWhatsappMatcher(cfg.Reporting.WhatsappPattern)
	normalizer := etl.NewNormalizer(nil, whatsapp)
	runner := etl.NewRunner(store, etl.WithMaxWait(locker, cfg.Ingestion.LockWait), normalizer, logger, cfg.Ingestion.InputDir, cfg.Ingestion.ArchiveDir)

	engine := metrics.NewEngine(store, reporting.NewResolver(cfg.Reporting.FiscalYearStartMonth))
	engine.Whatsapp = whatsapp
	engine.Retroactive = cfg.Reporting.WhatsappRetroactive

	// Initialize handler
	handler := api.NewHandler(engine, runner, logger)

	scheduler := api.NewIngestionScheduler(runner, logger)
	scheduler.Interval = cfg.Ingestion.Interval
	scheduler.Enabled = cfg.Ingestion.Enabled
	handler.Scheduler = scheduler
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		IngestRate:     rate.Limit(cfg.Security.IngestRateLimit),
		IngestBurst:    cfg.Security.IngestRateBurst,
		DemoRoutes:     *demo,
		TrustProxy:     cfg.Security.TrustProxy,
		StaticDir:      "./web/dist",
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

// newLocker serializes ingestion across processes when Redis is configured,
// and within this process otherwise.
func newLocker(c config.IngestionConfig, logger *logrus.Logger) (etl.Locker, error) {
	if c.RedisAddress == "" {
		return etl.NewLocalLocker(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rdb, err := config.ConnectRedis(ctx, c.RedisAddress, config.Component(logger, "redis"))
	if err != nil {
		return nil, err
	}
	locker := etl.NewRedisLocker(rdb, c.LockTTL)
	locker.Logger = config.Component(logger, "lock")
	return locker, nil
}
