package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/medprice/internal/api"
	"github.com/user/medprice/internal/config"
	"github.com/user/medprice/internal/identity"
	"github.com/user/medprice/internal/monitoring"
	"github.com/user/medprice/internal/reconcile"
	"github.com/user/medprice/internal/rotation"
	"github.com/user/medprice/internal/scheduler"
	"github.com/user/medprice/internal/source"
	"github.com/user/medprice/internal/storage"
	"github.com/user/medprice/internal/strategy"
	"github.com/user/medprice/internal/task"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	ctx := context.Background()
	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	// Initialize Monitoring
	metrics := monitoring.NewMetrics()

	// Initialize Acquisition Sources
	sourceTimeout := time.Duration(cfg.SourceTimeout) * time.Second
	tokens := source.NewTokenManager(
		redisStore.Client(),
		cfg.FastBaseURL+"/sso/login",
		source.Credentials{Phone: cfg.AuthPhone, Password: cfg.AuthPassword},
		logger,
	)
	fastSource := source.NewAPISource(cfg.FastBaseURL, tokens, sourceTimeout, logger)
	rotator := rotation.NewManager(splitProxies(cfg.ProxyURLs))
	browserSource := source.NewBrowserSource(cfg.FastBaseURL, tokens, rotator, 4*sourceTimeout, logger)

	// Initialize Core Pipeline
	resolver := identity.NewResolver(identity.DefaultRules())
	reconciler := reconcile.New(pgStore, resolver, cfg.SourceLabel, logger, metrics)
	acquisition := strategy.New(fastSource, browserSource, cfg.ProviderThreshold, metrics, logger)

	orchestrator := task.NewOrchestrator(pgStore, acquisition, reconciler, cfg.TaskWorkers, metrics, logger)
	orchestrator.SetProber(fastSource)
	orchestrator.Start()
	if err := orchestrator.ResumePending(ctx); err != nil {
		logger.Warn("could not resume pending tasks", zap.Error(err))
	}

	// Initialize Watch List Scheduler
	schedCtx, schedCancel := context.WithCancel(ctx)
	sched := scheduler.New(
		pgStore, redisStore, orchestrator,
		time.Duration(cfg.CrawlIntervalHours)*time.Hour,
		time.Duration(cfg.DeduplicationHours)*time.Hour,
		logger,
	)
	go sched.Run(schedCtx)

	// Initialize API Server
	server := api.NewServer(cfg, pgStore, redisStore, orchestrator, acquisition, reconciler, metrics, logger)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests before draining the workers so no handler can
	// submit into a stopping orchestrator.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	schedCancel()
	orchestrator.Stop()

	logger.Info("server exiting")
}

func splitProxies(urls string) []string {
	var out []string
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
