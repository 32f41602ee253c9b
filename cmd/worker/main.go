package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-costing/internal/app"
	"github.com/odyssey-erp/odyssey-costing/internal/costing"
	jobmetrics "github.com/odyssey-erp/odyssey-costing/internal/jobs"
	"github.com/odyssey-erp/odyssey-costing/internal/observability"
	"github.com/odyssey-erp/odyssey-costing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-costing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-costing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.Postgres("costing-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	costingMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	repo := costing.NewRepository(pool)
	engine := costing.NewEngine(repo, repo, cfg.Engine(), logger, costingMetrics)
	service := costing.NewService(engine, repo, costing.NewCache(redisClient, cfg.CacheTTL), logger)
	batchJob := costing.NewBatchJob(service, costingMetrics, loc, logger)

	// The payload carries no date so each run costs "today" in loc.
	dailyTask, err := jobs.NewDailyBatchTask(jobs.DailyBatchPayload{FailFast: cfg.BatchFailFast})
	if err != nil {
		logger.Error("build daily batch task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCostingDailyBatch, Handler: batchJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BatchCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting costing worker", slog.String("cron", cfg.BatchCron), slog.String("timezone", loc.String()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
