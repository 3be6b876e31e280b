package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/circuitbreaker"
	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/pkg/metrics"
	"github.com/servevlc/platform/services/sync-service/config"
	httpdelivery "github.com/servevlc/platform/services/sync-service/delivery/http"
	"github.com/servevlc/platform/services/sync-service/domain/service"
	"github.com/servevlc/platform/services/sync-service/infrastructure/lock"
	"github.com/servevlc/platform/services/sync-service/infrastructure/messaging"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote"
	"github.com/servevlc/platform/services/sync-service/usecase"
)

const (
	serviceName = "sync-service"
	version     = "1.0.0"
)

// Application holds the long-lived components of the service
type Application struct {
	config *config.Config
	logger *logging.Logger

	local  *localStores
	remote *remoteStores

	breakers     *circuitbreaker.Manager
	metrics      *metrics.Manager
	redis        *redis.Client
	kafka        *messaging.KafkaRunPublisher
	orchestrator *usecase.Orchestrator
	httpServer   *http.Server

	wg sync.WaitGroup
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	once := flag.Bool("once", false, "run every sync step once, print the summary and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &Application{config: cfg}
	if err := app.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		app.Shutdown()
		os.Exit(1)
	}

	if *once {
		code := app.RunOnce(ctx)
		app.Shutdown()
		os.Exit(code)
	}

	app.Start(ctx)
	<-ctx.Done()
	app.logger.Info("Shutdown signal received")
	app.Shutdown()
}

// Initialize builds every component from the configuration
func (app *Application) Initialize(ctx context.Context) error {
	cfg := app.config

	logger, err := logging.NewLogger(&logging.Config{
		Level:          logging.LogLevel(cfg.Logging.Level),
		Format:         logging.LogFormat(cfg.Logging.Format),
		OutputPaths:    []string{cfg.Logging.Output},
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version,
		Environment:    cfg.Service.Environment,
		EnableCaller:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	app.logger = logger

	app.metrics, err = metrics.NewManager(&metrics.Config{
		Enabled:          cfg.Metrics.Enabled,
		Path:             cfg.Metrics.Path,
		Namespace:        cfg.Metrics.Namespace,
		ServiceName:      cfg.Service.Name,
		ServiceVersion:   version,
		Environment:      cfg.Service.Environment,
		CollectGoMetrics: true,
	}, logger.Logger)
	if err != nil {
		return err
	}

	app.breakers = circuitbreaker.NewManager(
		remote.NewBreakerConfig(cfg.Sync.Breaker.FailureThreshold, cfg.Sync.Breaker.Timeout),
		logger.Logger,
	)

	if app.local, err = openLocalStores(ctx, cfg, logger); err != nil {
		return err
	}
	if app.remote, err = openRemoteStores(ctx, cfg, app.breakers, logger); err != nil {
		return err
	}

	var locker usecase.Locker = lock.NewLocalLocker()
	if cfg.Cache.Redis.Enabled {
		app.redis, err = lock.NewRedisClient(ctx, cfg.Cache.Redis)
		if err != nil {
			return err
		}
		locker = lock.NewRedisLocker(app.redis, logger)
	}

	var events usecase.ReportPublisher = messaging.NewLogPublisher(logger)
	if cfg.MessageQueue.Kafka.Enabled {
		app.kafka = messaging.NewKafkaRunPublisher(cfg.MessageQueue.Kafka, logger)
		events = app.kafka
	}

	opts := usecase.Options{
		Workers: cfg.Sync.Workers,
		Policy:  service.ConflictPolicy{EqualityShortCircuit: cfg.Sync.EqualityShortCircuit},
	}
	l, r := app.local, app.remote
	app.orchestrator = usecase.NewOrchestrator(
		usecase.NewAccountReconciler(l.accounts, r.accounts, opts, logger),
		usecase.NewAccountHistoryReconciler(l.accounts, l.accountHistory, r.accountHistory, opts, logger),
		usecase.NewWorkItemReconciler(l.workItems, r.workItems, l.accounts, l.references, opts, logger),
		usecase.NewWorkItemHistoryReconciler(l.workItems, l.workItemHistory, r.workItemHistory, opts, logger),
		usecase.NewSnapshotPublisher(l.snapshots, r.snapshots, opts, logger),
		locker,
		cfg.Sync.LockTTL,
		events,
		app.metrics,
		logger,
	)

	logger.Info("Sync service initialized",
		zap.String("local_store", cfg.Stores.Local),
		zap.String("remote_store", cfg.Stores.Remote),
		zap.Int("workers", cfg.Sync.Workers),
		zap.Bool("equality_short_circuit", cfg.Sync.EqualityShortCircuit))
	return nil
}

// RunOnce runs every step, prints the summary and returns the exit code.
// A signal does not interrupt the run.
func (app *Application) RunOnce(ctx context.Context) int {
	result := app.orchestrator.ReconcileAll(context.WithoutCancel(ctx))
	fmt.Print(result.Message)
	if result.Status == usecase.StatusError {
		return 1
	}
	return 0
}

// Start serves HTTP and, when configured, runs ReconcileAll on a schedule
func (app *Application) Start(ctx context.Context) {
	cfg := app.config
	router := httpdelivery.NewRouter(httpdelivery.RouterConfig{
		Runner:         app.orchestrator,
		Summaries:      app.local.snapshots,
		Breakers:       app.breakers,
		Metrics:        app.metrics,
		MetricsHandler: app.metrics.Handler(),
		MetricsPath:    cfg.Metrics.Path,
		JWT:            cfg.Security.JWT,
		ServiceName:    cfg.Service.Name,
		Version:        version,
		Logger:         app.logger,
	})

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.logger.Info("HTTP server listening", zap.String("address", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	if every := cfg.Sync.Schedule; every > 0 {
		app.logger.Info("Scheduled sync enabled", zap.Duration("interval", every))
		ticker := time.NewTicker(every)
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			defer ticker.Stop()
			app.schedule(ctx, ticker.C)
		}()
	}
}

// schedule runs ReconcileAll on every tick until ctx is done. ctx is only
// checked between runs.
func (app *Application) schedule(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			app.runScheduled(ctx)
		}
	}
}

func (app *Application) runScheduled(ctx context.Context) {
	result := app.orchestrator.ReconcileAll(context.WithoutCancel(ctx))
	if result.Status == usecase.StatusError {
		app.logger.Warn("Scheduled sync finished with errors", zap.String("summary", result.Message))
	}
}

// Shutdown stops the HTTP server and releases every connection
func (app *Application) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
	app.wg.Wait()

	if app.kafka != nil {
		if err := app.kafka.Close(); err != nil {
			app.logger.Warn("Kafka writer close failed", zap.Error(err))
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.remote != nil {
		app.remote.close(ctx)
	}
	if app.local != nil {
		app.local.close()
	}
	if app.logger != nil {
		app.logger.Info("Sync service stopped")
		_ = app.logger.Sync()
	}
}
