/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration (file, .env, PAIE_*)
  2. Build the zap logger and the Prometheus registry
  3. Initialize SQLite store and seed the catalog when configured
  4. Pick the lock backend (local or redis)
  5. Build the overtime, installment and computation engines
  6. Start the batch scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Configuration file (default: ./config.yaml when present)
  -port    HTTP server port, overrides the configuration
  -db      SQLite database path, overrides the configuration
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the scheduler, canceling the running batch
  4. Close database connection

EXAMPLES:
  ./server -db="./data/paie.db"
  PAIE_PAYROLL_LOCK_BACKEND=redis PAIE_REDIS_ADDR=redis:6379 ./server
  ./server -config=./deploy/paie.yaml -port=3000

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/moustaphacheikh/paie/api"
	"github.com/moustaphacheikh/paie/config"
	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/factory"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/lock"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = strconv.Itoa(*port)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Service:     "paie",
		Environment: cfg.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if err := seedCatalog(ctx, store, cfg.Payroll.CatalogPath); err != nil {
		return err
	}

	params, err := store.Parameters(ctx)
	if err != nil {
		return fmt.Errorf("load parameters: %w", err)
	}
	if h := cfg.Payroll.HistoryHorizonMonths; h > 0 && h != params.HistoryHorizonMonths {
		params.HistoryHorizonMonths = h
		if err := store.SaveParameters(ctx, params); err != nil {
			return fmt.Errorf("save parameters: %w", err)
		}
	}

	locks, closeLocks, err := newLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocks()

	ot := overtime.NewEngine(store, params.WeeklyThreshold, logger)
	inst := installment.NewEngine(store, locks, logger, installment.WithMetrics(metrics))
	computer := engine.NewComputer(store, ot, inst,
		engine.WithLocker(locks),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Payroll.Workers),
	)

	handler := api.NewHandler(api.Services{
		Store:        store,
		Computer:     computer,
		Overtime:     ot,
		Installments: inst,
		Metrics:      metrics,
		Logger:       logger,
	})

	scheduler := api.NewPayrollScheduler(computer, cfg.Payroll.JobQueueSize, logger, metrics)
	scheduler.PurgeInterval = cfg.Payroll.PurgeInterval
	scheduler.Start()
	defer scheduler.Stop()
	handler.Scheduler = scheduler

	routerCfg := api.RouterConfig{CorsOrigins: cfg.Server.CorsOrigins}
	if registry != nil {
		routerCfg.MetricsPath = cfg.Metrics.Path
		routerCfg.Gatherer = registry
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      api.NewRouter(handler, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("lock_backend", cfg.Payroll.LockBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// seedCatalog loads the built-in catalog ("standard") or a JSON document
// into the store. An empty path leaves the store as it is.
func seedCatalog(ctx context.Context, store *sqlite.Store, path string) error {
	var doc string
	switch path {
	case "":
		return nil
	case "standard":
		doc = factory.StandardCatalogJSON()
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}
		doc = string(b)
	}

	catalog, err := factory.NewCatalogFactory().ParseCatalog(doc)
	if err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := catalog.Load(ctx, store); err != nil {
		return fmt.Errorf("load catalog %s: %w", path, err)
	}
	return nil
}

func newLocker(cfg *config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Payroll.LockBackend != "redis" {
		return lock.NewLocal(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locks, err := lock.NewRedis(client, "paie:", cfg.Payroll.LockTTL, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis locks: %w", err)
	}
	return locks, func() { _ = client.Close() }, nil
}
